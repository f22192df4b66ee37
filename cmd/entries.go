package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

var _entriesCmdOpts struct {
	model           string
	host            string
	apiKey          string
	username        string
	password        string
	customerID      int
	useComfortMode  bool
	comfortDuration int64
	output          string
}

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "Manage the configured thermostat accounts",
}

var entriesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Log in to a vendor account and store it as a new entry",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store configentry.Store) error {
			return doEntriesAdd(ctx, store, cmd.Flags().Changed("customer-id"), cmd.OutOrStdout())
		})
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("entry.username", "entry.password")
	},
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored entries, secrets redacted",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store configentry.Store) error {
			return doEntriesList(ctx, store, _entriesCmdOpts.output, cmd.OutOrStdout())
		})
	},
}

var entriesRemoveCmd = &cobra.Command{
	Use:   "remove ENTRY_ID",
	Short: "Delete a stored entry",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store configentry.Store) error {
			if err := store.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		})
	},
}

var entriesMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade every stored entry to the current schema version",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store configentry.Store) error {
			return doEntriesMigrate(ctx, store, cmd.OutOrStdout())
		})
	},
}

var entriesOptionsCmd = &cobra.Command{
	Use:   "options ENTRY_ID",
	Short: "Change the comfort mode options of an entry",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store configentry.Store) error {
			return doEntriesOptions(ctx, store, args[0], cmd.OutOrStdout())
		})
	},
}

func init() {
	f := entriesAddCmd.Flags()
	f.StringVar(&_entriesCmdOpts.model, "model", string(ojapi.ModelWD5), "thermostat family: WD5 or WG4")
	f.StringVar(&_entriesCmdOpts.host, "host", "", "vendor API host (default depends on model)")
	f.StringVar(&_entriesCmdOpts.apiKey, "api-key", "", "vendor API key (WD5 only)")
	f.StringVar(&_entriesCmdOpts.username, "username", "", "vendor account username")
	f.StringVar(&_entriesCmdOpts.password, "password", "", "vendor account password")
	f.IntVar(&_entriesCmdOpts.customerID, "customer-id", configentry.DefaultCustomerID, "vendor customer ID (WD5 only)")

	for _, c := range []*cobra.Command{entriesAddCmd, entriesOptionsCmd} {
		c.Flags().BoolVar(&_entriesCmdOpts.useComfortMode, "use-comfort-mode", false, "set temperatures using timed comfort mode")
		c.Flags().Int64Var(&_entriesCmdOpts.comfortDuration, "comfort-mode-duration", configentry.DefaultComfortModeDuration, "comfort mode duration in minutes")
	}

	entriesListCmd.Flags().StringVarP(&_entriesCmdOpts.output, "output", "o", "yaml", "output format: yaml or json")

	errPanic(viper.GetViper().BindPFlag("entry.username", f.Lookup("username")))
	errPanic(viper.GetViper().BindPFlag("entry.password", f.Lookup("password")))
	errPanic(viper.GetViper().BindPFlag("entry.api-key", f.Lookup("api-key")))

	entriesCmd.AddCommand(entriesAddCmd, entriesListCmd, entriesRemoveCmd, entriesMigrateCmd, entriesOptionsCmd)
	rootCmd.AddCommand(entriesCmd)
}

func withStore(fn func(ctx context.Context, store configentry.Store) error) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(context.Background(), store)
}

func entryOptions() configentry.Options {
	return configentry.Options{
		UseComfortMode:      _entriesCmdOpts.useComfortMode,
		ComfortModeDuration: swag.Int64(_entriesCmdOpts.comfortDuration),
	}
}

func doEntriesAdd(ctx context.Context, store configentry.Store, customerIDSet bool, out io.Writer) error {
	data := configentry.Data{
		Model:    ojapi.Model(_entriesCmdOpts.model),
		Host:     _entriesCmdOpts.host,
		APIKey:   viper.GetString("entry.api-key"),
		Username: viper.GetString("entry.username"),
		Password: viper.GetString("entry.password"),
	}
	if data.Model == ojapi.ModelWD5 || customerIDSet {
		data.CustomerID = swag.Int(_entriesCmdOpts.customerID)
	}

	opts := entryOptions()
	flow := configentry.NewFlow(store, hubSettings().Driver(), viper.GetDuration("coordinator.api-timeout"))

	res, err := flow.StepUser(ctx, data, &opts)
	if err != nil {
		return err
	}

	switch res.Type {
	case configentry.ResultAbort:
		return errors.Errorf("not added: %s", res.Reason)
	case configentry.ResultForm:
		return errors.Errorf("not added: %s", res.Errors["base"])
	}

	fmt.Fprintf(out, "added %s (%s)\n", res.Entry.ID, res.Entry.Title)
	return nil
}

func doEntriesList(ctx context.Context, store configentry.Store, format string, out io.Writer) error {
	entries, err := store.List(ctx)
	if err != nil {
		return err
	}

	redacted := make([]configentry.Entry, 0, len(entries))
	for _, e := range entries {
		redacted = append(redacted, e.Redacted())
	}

	var b []byte
	switch format {
	case "yaml":
		b, err = yaml.Marshal(redacted)
	case "json":
		b, err = json.MarshalIndent(redacted, "", "    ")
		b = append(b, '\n')
	default:
		return errors.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return err
	}

	_, err = out.Write(b)
	return err
}

func doEntriesMigrate(ctx context.Context, store configentry.Store, out io.Writer) error {
	entries, err := store.List(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for i := range entries {
		e := &entries[i]
		before := e.Version

		if err := configentry.MigrateAndSave(ctx, store, e); err != nil {
			logging.Logger(ctx).WithError(err).Errorf("migrating entry %s", e.ID)
			failed++
			continue
		}

		if e.Version != before {
			fmt.Fprintf(out, "%s: version %d -> %d\n", e.ID, before, e.Version)
		}
	}

	if failed > 0 {
		return errors.Errorf("%d entries could not be migrated", failed)
	}
	return nil
}

func doEntriesOptions(ctx context.Context, store configentry.Store, id string, out io.Writer) error {
	entry, err := store.Get(ctx, id)
	if err != nil {
		return err
	}

	opts := entryOptions()
	if err := opts.Validate(strfmt.Default); err != nil {
		return err
	}

	entry.Options = opts
	if err := store.Update(ctx, entry); err != nil {
		return err
	}

	fmt.Fprintf(out, "updated options of %s; reload the entry or restart the server to apply\n", id)
	return nil
}
