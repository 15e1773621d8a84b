package reconcile

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xgr-network/xgr-relay/command/helper"
	"github.com/xgr-network/xgr-relay/relay"
)

type reconcileResult struct {
	Subscription string         `json:"subscription"`
	Checked      int            `json:"checked"`
	Resolved     map[string]int `json:"resolved"`
	Pending      int            `json:"pending"`
	StartBlock   *uint64        `json:"startBlock,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
}

func newReconcileResult(subscription string, report *relay.Report, err error) *reconcileResult {
	res := &reconcileResult{
		Subscription: subscription,
		Checked:      report.Checked,
		Resolved:     make(map[string]int, len(report.Resolved)),
		Pending:      report.Pending,
	}

	for status, n := range report.Resolved {
		res.Resolved[string(status)] = n
	}

	if report.HasStart {
		block := report.StartBlock
		res.StartBlock = &block
	}

	if err != nil {
		res.Errors = []string{err.Error()}
	}

	return res
}

func (r *reconcileResult) GetOutput() string {
	var buffer bytes.Buffer

	start := ""
	if r.StartBlock != nil {
		start = fmt.Sprint(*r.StartBlock)
	}

	vals := []string{
		fmt.Sprintf("Subscription|%s", r.Subscription),
		fmt.Sprintf("Checked|%d", r.Checked),
		fmt.Sprintf("Pending|%d", r.Pending),
		fmt.Sprintf("Start Block|%s", start),
	}

	statuses := make([]string, 0, len(r.Resolved))
	for status := range r.Resolved {
		statuses = append(statuses, status)
	}

	sort.Strings(statuses)

	for _, status := range statuses {
		vals = append(vals, fmt.Sprintf("Resolved %s|%d", status, r.Resolved[status]))
	}

	buffer.WriteString("\n[JOURNAL RECONCILIATION]\n")
	buffer.WriteString(helper.FormatKV(vals))
	buffer.WriteString("\n")

	for _, e := range r.Errors {
		buffer.WriteString("\nerror: ")
		buffer.WriteString(e)
		buffer.WriteString("\n")
	}

	return buffer.String()
}
