package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	clicfg "github.com/workingdb/workingdb-go/internal/cli/config"
	"github.com/workingdb/workingdb-go/internal/infra/confloader"
	"github.com/workingdb/workingdb-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage CLI profiles and check server configuration files",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the CLI configuration",
				Action: configShow,
			},
			{
				Name:      "use",
				Usage:     "Make a profile the default",
				ArgsUsage: "PROFILE",
				Action:    configUse,
			},
			{
				Name:      "set-profile",
				Usage:     "Create or update a profile from the global connection flags",
				ArgsUsage: "PROFILE",
				Action:    configSetProfile,
			},
			{
				Name:      "test",
				Usage:     "Validate a server configuration file",
				ArgsUsage: "FILE",
				Action:    configTest,
			},
		},
	}
}

type profileView struct {
	Name     string `json:"name"`
	Current  bool   `json:"current"`
	Server   string `json:"server"`
	Socket   string `json:"socket"`
	Admin    string `json:"admin"`
	Password string `json:"password"`
}

func configShow(c *cli.Context) error {
	cfg := cliConfig(c)
	if !structured(c) {
		fmt.Fprintf(stdout(c), "Config file: %s\nOutput:      %s\n\n", c.String("config"), cfg.Output)
	}
	views := make([]profileView, 0, len(cfg.Profiles))
	for _, name := range cfg.Names() {
		p := cfg.Profiles[name]
		v := profileView{
			Name:    name,
			Current: name == cfg.Current,
			Server:  p.Server,
			Socket:  p.Socket,
			Admin:   p.Admin,
		}
		if p.Password != "" {
			v.Password = config.Masked
		}
		views = append(views, v)
	}
	return render(c, views)
}

func configUse(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	cfg := cliConfig(c)
	name := c.Args().First()
	if _, ok := cfg.Profiles[name]; !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	cfg.Current = name
	if err := clicfg.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Using profile %q\n", name)
	return nil
}

func configSetProfile(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	cfg := cliConfig(c)
	name := c.Args().First()
	p := cfg.Profiles[name]
	if c.IsSet("server") {
		p.Server = c.String("server")
	}
	if c.IsSet("socket") {
		p.Socket = c.String("socket")
	}
	if c.IsSet("admin") {
		p.Admin = c.String("admin")
	}
	if c.IsSet("password") {
		p.Password = c.String("password")
	}
	if p.Server == "" && p.Socket == "" {
		return cli.Exit("a profile needs --server or --socket", 2)
	}
	cfg.Profiles[name] = p
	if err := clicfg.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Saved profile %q\n", name)
	return nil
}

// configTest loads FILE exactly as workingdb-server would, environment
// overrides included, and reports every validation error.
func configTest(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	path := c.Args().First()
	cfg := config.Default()
	if err := confloader.NewLoader(confloader.WithConfigFile(path)).Load(cfg); err != nil {
		return err
	}
	if err := config.Verify(cfg); err != nil {
		fmt.Fprintf(stdout(c), "✗ %s is invalid:\n%v\n", path, err)
		return cli.Exit("", 1)
	}
	if structured(c) {
		return render(c, config.Sanitize(cfg))
	}
	fmt.Fprintf(stdout(c), "✓ %s is valid\n", path)
	return nil
}
