package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/analytics"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/auth"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/autosync"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newAddCommand() *cobra.Command {
	var (
		vehicleID string
		amount    float64
		price     float64
		volume    float64
		full      bool
		note      string
	)
	cmd := &cobra.Command{
		Use:   "add ODOMETER_KM",
		Short: "Record a refill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var odometer int64
			if _, err := fmt.Sscan(args[0], &odometer); err != nil {
				return fmt.Errorf("odometer must be a whole number of kilometres: %w", err)
			}
			return withApplication(cmd.Context(), func(app *application) error {
				ctx := cmd.Context()
				vehicle, err := app.activeVehicle(ctx, vehicleID)
				if err != nil {
					return err
				}
				input := entries.NewEntryInput{VehicleID: vehicle, OdometerKm: odometer, IsFullTank: full}
				if cmd.Flags().Changed("amount") {
					input.AmountSpent = &amount
				}
				if cmd.Flags().Changed("volume") {
					input.Volume = &volume
				}
				if cmd.Flags().Changed("note") {
					input.Note = &note
				}
				if cmd.Flags().Changed("price") {
					input.PricePerUnit = &price
				} else if remembered, ok, err := app.prefs.FuelPrice(ctx); err == nil && ok {
					input.PricePerUnit = &remembered
				}

				created, err := app.store.Create(ctx, input)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("price") && price > 0 {
					if err := app.prefs.SetFuelPrice(ctx, price); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded %s at %s km (%s)\n",
					created.LocalID, humanize.Comma(created.OdometerKm), created.SyncStatus)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "Vehicle id (defaults to the active vehicle)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Amount spent")
	cmd.Flags().Float64Var(&price, "price", 0, "Price per unit (remembered for later refills)")
	cmd.Flags().Float64Var(&volume, "volume", 0, "Volume filled")
	cmd.Flags().BoolVar(&full, "full", false, "Tank was filled up")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note")
	return cmd
}

func newListCommand() *cobra.Command {
	var (
		vehicleID string
		status    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List refills newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				filter := entries.Filter{VehicleID: vehicleID, Limit: limit}
				if status != "" {
					parsed, err := entries.ParseSyncStatus(status)
					if err != nil {
						return err
					}
					filter.Statuses = []entries.SyncStatus{parsed}
				}
				listed, err := app.store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return writeEntries(cmd.OutOrStdout(), listed)
			})
		},
	}
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "Only this vehicle")
	cmd.Flags().StringVar(&status, "status", "", "Only this sync status (pending, syncing, synced, error)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows (0 for all)")
	return cmd
}

func writeEntries(out io.Writer, listed []entries.FuelEntry) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tVEHICLE\tODOMETER\tVOLUME\tFULL\tCREATED\tSTATUS")
	for _, entry := range listed {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			entry.LocalID,
			entry.VehicleID,
			humanize.Comma(entry.OdometerKm),
			formatOptional(entry.Volume, 2),
			entry.IsFullTank,
			time.UnixMilli(entry.CreatedAtMsec).Format(time.DateTime),
			describeStatus(entry))
	}
	return writer.Flush()
}

func describeStatus(entry entries.FuelEntry) string {
	if entry.SyncStatus == entries.StatusError && entry.LastError != nil {
		return fmt.Sprintf("%s: %s", entry.SyncStatus, *entry.LastError)
	}
	return string(entry.SyncStatus)
}

func formatOptional(value *float64, decimals int) string {
	if value == nil {
		return "-"
	}
	return humanize.FtoaWithDigits(*value, decimals)
}

func newPushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload pending and failed refills",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				result, _, err := app.runner.Trigger(cmd.Context(), autosync.ReasonManual)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if result.Skipped {
					fmt.Fprintln(out, "push skipped: not signed in (run fueltrack login)")
					return nil
				}
				fmt.Fprintf(out, "pushed %d of %d refills, %d failed\n", result.Succeeded, result.Attempted, result.Failed)
				for _, record := range result.Records {
					if record.Error != "" {
						fmt.Fprintf(out, "  %s: %s\n", record.LocalID, record.Error)
					}
				}
				return nil
			})
		},
	}
}

func newRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Merge every remote refill into the local log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				result, err := app.engine.Restore(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "merged %d of %d remote refills (%d new, %d updated, %d kept, %d unreadable)\n",
					result.Merged(), result.Listed, result.Inserted, result.Overwritten, result.Discarded, result.Skipped)
				return nil
			})
		},
	}
}

func newStatsCommand() *cobra.Command {
	var (
		vehicleID string
		days      int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fuel efficiency figures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				ctx := cmd.Context()
				vehicle, err := app.activeVehicle(ctx, vehicleID)
				if err != nil {
					return err
				}
				sequence, err := app.store.List(ctx, entries.Filter{VehicleID: vehicle})
				if err != nil {
					return err
				}
				window := app.config.RollingDays
				if days > 0 {
					window = days
				}
				writeStats(cmd.OutOrStdout(), vehicle, sequence, window, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "Vehicle id (defaults to the active vehicle)")
	cmd.Flags().IntVar(&days, "days", 0, "Rolling window in days (defaults to analytics.rolling_days)")
	return cmd
}

func writeStats(out io.Writer, vehicle string, sequence []entries.FuelEntry, days int, now time.Time) {
	summary := analytics.Summarize(sequence)
	fmt.Fprintf(out, "vehicle %s: %d refills, %s km tracked, %s spent\n",
		vehicle, summary.Entries, humanize.Comma(summary.TotalDistanceKm), humanize.FtoaWithDigits(summary.TotalSpent, 2))
	fmt.Fprintf(out, "average efficiency:  %s km/unit\n", formatOptional(summary.AverageEfficiency, 2))
	writeWindow(out, "full to full:", analytics.FullToFull(sequence))
	writeWindow(out, "since last full:", analytics.SinceLastFull(sequence))
	rolling := analytics.RollingWindow(sequence, days, now)
	writeWindow(out, fmt.Sprintf("last %d days:", rolling.Days), rolling.Window)
	fmt.Fprintf(out, "%-20s %s\n", "cost last window:", humanize.FtoaWithDigits(rolling.Cost, 2))
}

func writeWindow(out io.Writer, label string, window analytics.Window) {
	fmt.Fprintf(out, "%-20s %s km / %s units = %s km/unit\n",
		label, humanize.Comma(window.DistanceKm), humanize.FtoaWithDigits(window.Volume, 2), formatOptional(window.Efficiency, 2))
}

func newLoginCommand() *cobra.Command {
	var (
		accessToken string
		idToken     string
		email       string
		expiresIn   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an OAuth access token for the remote backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(accessToken) == "" {
				return fmt.Errorf("--access-token is required")
			}
			return withApplication(cmd.Context(), func(app *application) error {
				request := auth.SignInRequest{AccessToken: accessToken, IDToken: idToken, Email: email}
				if expiresIn > 0 {
					request.Expiry = time.Now().Add(expiresIn)
				}
				state, err := app.session.SignIn(cmd.Context(), request)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", displayEmail(state))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token with drive.file scope")
	cmd.Flags().StringVar(&idToken, "id-token", "", "Google ID token used to verify the account email")
	cmd.Flags().StringVar(&email, "email", "", "Account email shown when no ID token is given")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "Access token lifetime")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				if err := app.session.SignOut(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sign-in and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()
				state := app.session.State()
				if state.SignedIn {
					fmt.Fprintf(out, "signed in as %s\n", displayEmail(state))
				} else {
					fmt.Fprintln(out, "signed out")
				}

				lastSync, ok, err := app.prefs.LastSyncAt(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "last sync: %s\n", describeLastSync(lastSync, ok))

				candidates, err := app.store.List(ctx, entries.CandidateFilter(""))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "waiting to upload: %d\n", len(candidates))

				stranded, err := app.store.Stranded(ctx)
				if err != nil {
					return err
				}
				if len(stranded) > 0 {
					fmt.Fprintf(out, "stranded in syncing: %d (run fueltrack requeue-stuck)\n", len(stranded))
					for _, entry := range stranded {
						fmt.Fprintf(out, "  %s updated %s\n", entry.LocalID, humanize.Time(time.UnixMilli(entry.UpdatedAtMsec)))
					}
				}
				return nil
			})
		},
	}
}

func describeLastSync(lastSync time.Time, ok bool) string {
	if !ok {
		return "never"
	}
	return humanize.Time(lastSync)
}

func displayEmail(state auth.State) string {
	if state.Email == "" {
		return "unknown account"
	}
	return state.Email
}

func newRequeueStuckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue-stuck",
		Short: "Move refills stranded in syncing back into the upload queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				recovered, err := app.store.RecoverStuck(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d refills\n", len(recovered))
				return nil
			})
		},
	}
}

func newVehiclesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicles",
		Short: "List and manage vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				ctx := cmd.Context()
				vehicles, err := app.vehicles.List(ctx)
				if err != nil {
					return err
				}
				active, err := app.prefs.ActiveVehicleID(ctx, entries.DefaultVehicleID)
				if err != nil {
					return err
				}
				for _, vehicle := range vehicles {
					marker := " "
					if vehicle.ID == active {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\n", marker, vehicle.ID, vehicle.Name)
				}
				return nil
			})
		},
	}

	var plate string
	add := &cobra.Command{
		Use:   "add ID NAME",
		Short: "Register a vehicle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				vehicle, err := app.vehicles.Add(cmd.Context(), args[0], args[1], plate)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", vehicle.ID, vehicle.Name)
				return nil
			})
		},
	}
	add.Flags().StringVar(&plate, "plate", "", "Registration plate")

	rename := &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a vehicle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				vehicle, err := app.vehicles.Rename(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %s\n", vehicle.ID, vehicle.Name)
				return nil
			})
		},
	}

	use := &cobra.Command{
		Use:   "use ID",
		Short: "Select the vehicle new refills default to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				vehicle, err := app.vehicles.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("vehicle %q: %w", args[0], err)
				}
				if err := app.prefs.SetActiveVehicleID(cmd.Context(), vehicle.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "now recording for %s\n", vehicle.Name)
				return nil
			})
		},
	}

	cmd.AddCommand(add, rename, use)
	return cmd
}
