package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
)

// styles renders text output. Colors are dropped when the writer is not a terminal.
type styles struct {
	ok    lipgloss.Style
	fail  lipgloss.Style
	label lipgloss.Style
	dim   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:    r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		fail:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		label: r.NewStyle().Bold(true),
		dim:   r.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

func (s styles) status(ok bool) string {
	if ok {
		return s.ok.Render("ok")
	}
	return s.fail.Render("FAIL")
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
