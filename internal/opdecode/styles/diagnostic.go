package styles

import (
	"errors"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"

	"opdecode/internal/decodeerr"
)

var (
	kindStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(charmtone.Cherry.Hex()))
	whereStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Squid.Hex()))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Smoke.Hex()))
)

// Diagnostic renders err as the single line printed when a command fails:
// "error: <kind> (<where>): <detail>".
func Diagnostic(err error, color bool) string {
	var de *decodeerr.Error
	if !errors.As(err, &de) {
		if !color {
			return "error: " + err.Error()
		}
		return kindStyle.Render("error:") + " " + detailStyle.Render(err.Error())
	}

	full := de.Error()
	kind := de.Kind.String()
	rest := strings.TrimPrefix(full, kind)
	where, detail := "", rest
	if strings.HasPrefix(rest, " (") {
		if i := strings.Index(rest, ")"); i >= 0 {
			where, detail = rest[1:i+1], rest[i+1:]
		}
	}
	if !color {
		return "error: " + full
	}

	var sb strings.Builder
	sb.WriteString(kindStyle.Render("error: " + kind))
	if where != "" {
		sb.WriteString(" ")
		sb.WriteString(whereStyle.Render(where))
	}
	if detail != "" {
		sb.WriteString(detailStyle.Render(detail))
	}
	return sb.String()
}
