package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nstogner/tiered/pkg/agent"
	"github.com/nstogner/tiered/pkg/classify"
	"github.com/nstogner/tiered/pkg/cost"
	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/router"
	"github.com/nstogner/tiered/pkg/tools"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	tierStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true) // Red
)

var (
	chatMode   string
	chatPlan   string
	chatMemory bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively, streaming each turn",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		tracker := cost.NewTracker(cost.NewAccountant(a.reg))
		r := &repl{
			app:     a,
			router:  router.New(a.reg, classify.New(a.backend, a.reg, classify.WithTimeout(cfg.ClassifierTimeout))),
			exec:    agent.NewExecutor(a.backend, a.reg, agent.WithRetryPolicy(cfg.Retry), agent.WithUsageStore(a.store), agent.WithTracker(tracker)),
			tracker: tracker,
			mode:    chatMode,
			plan:    domain.ParsePlan(chatPlan),
			out:     cmd.OutOrStdout(),
		}
		defer r.close(context.WithoutCancel(ctx))
		return r.run(ctx, cmd.InOrStdin())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatMode, "mode", domain.ModeAuto, "tier key, or auto to classify each message")
	chatCmd.Flags().StringVar(&chatPlan, "plan", string(domain.PlanFree), "subscription plan: free, pro or enterprise")
	chatCmd.Flags().BoolVar(&chatMemory, "memory", false, "give the model the memory tools")
}

type repl struct {
	app     *app
	router  *router.Router
	exec    *agent.Executor
	tracker *cost.Tracker
	sess    *agent.Session
	mode    string
	plan    domain.Plan
	out     io.Writer
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, titleStyle.Render("tiered chat"))
	fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("mode %s, plan %s. Commands: /mode <tier|auto>, /plan <plan>, /stats, exit", r.mode, r.plan)))

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*domain.MaxMessageChars)
	for {
		fmt.Fprint(r.out, userStyle.Render("You: "))
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit" || line == "/exit":
			return nil
		case strings.HasPrefix(line, "/"):
			r.command(line)
			continue
		}
		if err := r.turn(ctx, line); err != nil {
			fmt.Fprintln(r.out, errorStyle.Render("Error:"), err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) command(line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/mode":
		if arg != domain.ModeAuto && !r.app.reg.Has(arg) {
			fmt.Fprintln(r.out, errorStyle.Render("Unknown tier:"), arg)
			return
		}
		r.mode = arg
		fmt.Fprintln(r.out, dimStyle.Render("mode set to "+arg))
	case "/plan":
		r.plan = domain.ParsePlan(arg)
		fmt.Fprintln(r.out, dimStyle.Render("plan set to "+string(r.plan)))
	case "/stats":
		r.printStats()
	default:
		fmt.Fprintln(r.out, errorStyle.Render("Unknown command:"), name)
	}
}

func (r *repl) printStats() {
	if r.sess != nil {
		b, _ := json.MarshalIndent(r.exec.Stats(r.sess), "", "  ")
		fmt.Fprintln(r.out, string(b))
	}
	for key, t := range r.tracker.Summary() {
		fmt.Fprintf(r.out, "%s %d turns, %d in / %d out tokens, $%.6f\n",
			tierStyle.Render(key), t.Turns, t.InputTokens, t.OutputTokens, t.Cost)
	}
	total := r.tracker.Total()
	fmt.Fprintf(r.out, "%s $%.6f\n", tierStyle.Render("total"), total.Cost)
}

func (r *repl) session(tierKey string) *agent.Session {
	if r.sess == nil {
		ds := r.app.tools.List()
		if chatMemory {
			ds = append(ds, tools.Memory(r.app.store)...)
		}
		r.sess = agent.NewSession(r.app.reg, tierKey, agent.WithTools(ds...))
	}
	r.sess.SwitchTier(r.app.reg, tierKey)
	return r.sess
}

func (r *repl) turn(ctx context.Context, msg string) error {
	d, err := r.router.Resolve(ctx, domain.ChatRequest{Message: msg, Mode: r.mode}, r.plan)
	if err != nil {
		return err
	}
	if d.Downgraded {
		fmt.Fprintln(r.out, dimStyle.Render(d.Reason))
	}
	sess := r.session(d.TierKey)

	st := r.exec.ExecuteStream(ctx, sess, agent.TurnRequest{Message: msg})
	defer st.Close()

	fmt.Fprint(r.out, tierStyle.Render(d.TierKey+": "))
	thinking := false
	for ev := range st.Events() {
		switch ev.Kind {
		case domain.EventThinking:
			thinking = true
			fmt.Fprint(r.out, thinkingStyle.Render(ev.Text))
		case domain.EventAnswer:
			if thinking {
				fmt.Fprintln(r.out)
				thinking = false
			}
			fmt.Fprint(r.out, ev.Text)
		case domain.EventTool:
			if ev.Tool != nil {
				fmt.Fprintln(r.out)
				fmt.Fprintln(r.out, toolStyle.Render("[tool] "+ev.Tool.ToolName))
			}
		case domain.EventDone:
			fmt.Fprintln(r.out)
			if ev.Usage != nil {
				c := r.exec.Reconcile(ctx, sess, *ev.Usage)
				fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("%d in / %d out tokens, $%.6f", ev.Usage.Input, ev.Usage.Output, c)))
			}
		case domain.EventError:
			fmt.Fprintln(r.out)
			return fmt.Errorf("%s", ev.Error)
		}
	}
	return nil
}

func (r *repl) close(ctx context.Context) {
	if r.sess == nil {
		return
	}
	r.sess.Close()
	if r.app.sandbox != nil {
		r.app.sandbox.Stop(ctx, r.sess.ID)
	}
}
