package journal

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xgr-network/xgr-relay/command/helper"
	"github.com/xgr-network/xgr-relay/journal"
)

type journalListResult struct {
	Records []*journal.Record `json:"records"`
}

func (r *journalListResult) GetOutput() string {
	var buffer bytes.Buffer

	buffer.WriteString("\n[JOURNAL]\n")

	if len(r.Records) == 0 {
		buffer.WriteString("No records found\n")

		return buffer.String()
	}

	rows := make([]string, 0, len(r.Records)+1)
	rows = append(rows, "Request ID|Kind|Status|Block|Tx Hash|Attempts|Updated")

	for _, rec := range r.Records {
		rows = append(rows, fmt.Sprintf("%s|%s|%s|%d|%s|%d|%s",
			rec.RequestID.Short(),
			rec.Kind,
			rec.Status,
			rec.BlockNumber,
			shortHash(rec.TxHash),
			rec.Attempts,
			formatTime(rec.UpdatedAt),
		))
	}

	buffer.WriteString(helper.FormatList(rows))
	buffer.WriteString("\n")

	return buffer.String()
}

type journalRecordResult struct {
	*journal.Record
}

func (r *journalRecordResult) GetOutput() string {
	var buffer bytes.Buffer

	buffer.WriteString("\n[JOURNAL RECORD]\n")
	buffer.WriteString(helper.FormatKV([]string{
		fmt.Sprintf("Request ID|%s", r.RequestID),
		fmt.Sprintf("Kind|%s", r.Kind),
		fmt.Sprintf("Status|%s", r.Status),
		fmt.Sprintf("Block|%d", r.BlockNumber),
		fmt.Sprintf("Tx Hash|%s", hashOrEmpty(r.TxHash)),
		fmt.Sprintf("Prompt Hash|%s", hashOrEmpty(r.PromptHash)),
		fmt.Sprintf("Attempts|%d", r.Attempts),
		fmt.Sprintf("Error|%s", r.Error),
		fmt.Sprintf("Updated|%s", formatTime(r.UpdatedAt)),
	}))
	buffer.WriteString("\n")

	return buffer.String()
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}

	return h.Hex()
}

func shortHash(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}

	s := h.Hex()

	return s[:10] + ".." + s[len(s)-4:]
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}
