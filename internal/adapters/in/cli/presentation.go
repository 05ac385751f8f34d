package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	errorLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	errorTextStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
)

var cliWriteLine = func(w io.Writer, msg string) error {
	_, err := fmt.Fprintln(w, msg)
	return err
}

// cliWriteJSON prints v as indented JSON followed by a newline.
func cliWriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// cliRenderError formats err for a human reading stderr.
func cliRenderError(err error) string {
	return errorLabelStyle.Render("Error:") + " " + errorTextStyle.Render(err.Error())
}

// statusResponse is the payload of commands that return nothing else.
type statusResponse struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}
