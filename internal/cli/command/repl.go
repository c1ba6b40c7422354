package command

import (
	"github.com/urfave/cli/v2"

	"github.com/workingdb/workingdb-go/internal/cli/repl"
)

// REPLCommand starts interactive mode.
func REPLCommand() *cli.Command {
	return &cli.Command{
		Name:   "repl",
		Usage:  "Start an interactive session (the default)",
		Action: runREPL,
	}
}

func runREPL(c *cli.Context) error {
	if c.Args().Present() {
		return cli.ShowAppHelp(c)
	}
	mgr, err := connManager(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	client, err := mgr.RESP(ctx)
	cancel()
	if err != nil {
		return err
	}
	r := repl.New(client,
		repl.WithIO(c.App.Reader, c.App.Writer),
		repl.WithPrompt(client.Addr()+"> "),
		repl.WithHistory(repl.NewHistory(repl.DefaultHistoryPath(), repl.DefaultHistorySize)),
	)
	return r.Run(c.Context)
}
