package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// OutputFormatter collects a command result or error and prints it once.
type OutputFormatter interface {
	// SetError sets the encountered error
	SetError(err error)
	// SetCommandResult sets the result of the command execution
	SetCommandResult(result CommandResult)
	// WriteOutput writes the previously set result / error output
	WriteOutput()
	// WriteCommandResult immediately writes the given command result without waiting for WriteOutput func call.
	WriteCommandResult(result CommandResult)
	// Write extends io.Writer interface
	Write(p []byte) (n int, err error)
}

type CommandResult interface {
	GetOutput() string
}

func shouldOutputJSON(baseCmd *cobra.Command) bool {
	flag := baseCmd.Flag(JSONOutputFlag)
	if flag == nil {
		return false
	}

	return flag.Changed
}

func InitializeOutputter(cmd *cobra.Command) OutputFormatter {
	if shouldOutputJSON(cmd) {
		return newJSONOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	return newCLIOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

type commonOutputFormatter struct {
	errorOutput   error
	commandOutput CommandResult

	out    io.Writer
	errOut io.Writer
}

func (c *commonOutputFormatter) SetError(err error) {
	c.errorOutput = err
}

func (c *commonOutputFormatter) SetCommandResult(result CommandResult) {
	c.commandOutput = result
}

func (c *commonOutputFormatter) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

type cliOutput struct {
	commonOutputFormatter
}

func newCLIOutput(out, errOut io.Writer) *cliOutput {
	return &cliOutput{commonOutputFormatter{out: out, errOut: errOut}}
}

func (cli *cliOutput) WriteOutput() {
	if cli.errorOutput != nil {
		_, _ = fmt.Fprintln(cli.errOut, cli.errorOutput.Error())

		// return proper error exit code for cli error output
		os.Exit(1)
	}

	if cli.commandOutput != nil {
		_, _ = fmt.Fprintln(cli.out, cli.commandOutput.GetOutput())
	}
}

func (cli *cliOutput) WriteCommandResult(result CommandResult) {
	_, _ = fmt.Fprintln(cli.out, result.GetOutput())
}

type jsonOutput struct {
	commonOutputFormatter
}

func newJSONOutput(out, errOut io.Writer) *jsonOutput {
	return &jsonOutput{commonOutputFormatter{out: out, errOut: errOut}}
}

func (jo *jsonOutput) WriteOutput() {
	if jo.errorOutput != nil {
		_, _ = fmt.Fprintln(jo.errOut, jo.marshal(map[string]string{"err": jo.errorOutput.Error()}))

		os.Exit(1)
	}

	if jo.commandOutput != nil {
		_, _ = fmt.Fprintln(jo.out, jo.marshal(jo.commandOutput))
	}
}

func (jo *jsonOutput) WriteCommandResult(result CommandResult) {
	_, _ = fmt.Fprintln(jo.out, jo.marshal(result))
}

func (jo *jsonOutput) marshal(v interface{}) string {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"err": %q}`, strings.TrimSpace(err.Error()))
	}

	return string(bytes)
}
