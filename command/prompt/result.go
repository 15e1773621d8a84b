package prompt

import (
	"bytes"
	"fmt"

	"github.com/xgr-network/xgr-relay/command/helper"
)

type promptResult struct {
	Kind       string `json:"kind"`
	System     string `json:"system,omitempty"`
	Prompt     string `json:"prompt"`
	Reply      string `json:"reply,omitempty"`
	Normalized string `json:"normalized,omitempty"`
	ReplyError string `json:"replyError,omitempty"`
}

func (r *promptResult) GetOutput() string {
	var buffer bytes.Buffer

	vals := []string{
		fmt.Sprintf("Kind|%s", r.Kind),
		fmt.Sprintf("System|%s", r.System),
	}

	if r.Reply != "" {
		vals = append(vals, fmt.Sprintf("Reply|%s", r.Reply))

		if r.ReplyError != "" {
			vals = append(vals, fmt.Sprintf("Reply Error|%s", r.ReplyError))
		} else {
			vals = append(vals, fmt.Sprintf("Normalized|%s", r.Normalized))
		}
	}

	buffer.WriteString("\n[PROMPT]\n")
	buffer.WriteString(helper.FormatKV(vals))
	buffer.WriteString("\n\n")
	buffer.WriteString(r.Prompt)
	buffer.WriteString("\n")

	return buffer.String()
}
