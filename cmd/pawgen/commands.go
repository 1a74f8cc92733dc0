package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/petsphoto/pawgen/internal/auth"
	"github.com/petsphoto/pawgen/internal/batch"
	"github.com/petsphoto/pawgen/internal/display"
	"github.com/petsphoto/pawgen/internal/shell"
	"github.com/petsphoto/pawgen/internal/store"
	"github.com/petsphoto/pawgen/pkg/models"
)

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newRegisterCmd(app *App, verbose *bool) *cobra.Command {
	var email, username, fullName string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			password, err := promptPassword(app, "Password: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassword(app, "Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}

			user, err := rt.session.Register(ctx, &models.RegisterRequest{
				Email:    email,
				Password: password,
				Username: username,
				FullName: fullName,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(app.Out, "Registered and logged in as %s (%d credits)\n", user.Email, user.Credits)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email (required)")
	cmd.Flags().StringVarP(&username, "username", "u", "", "display name")
	cmd.Flags().StringVar(&fullName, "full-name", "", "full name")
	cobra.CheckErr(cmd.MarkFlagRequired("email"))

	return cmd
}

func newLoginCmd(app *App, verbose *bool) *cobra.Command {
	var email string
	var provider bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password, or a federated provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			if provider {
				return runProviderLogin(ctx, app, rt)
			}

			if email == "" {
				return errors.New("--email is required for password login")
			}

			password, err := promptPassword(app, "Password: ")
			if err != nil {
				return err
			}

			user, err := rt.session.Login(ctx, &models.LoginRequest{
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(app.Out, "Logged in as %s (%d credits)\n", user.Email, user.Credits)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().BoolVar(&provider, "provider", false, "sign in through the configured identity provider")

	return cmd
}

func runProviderLogin(ctx context.Context, app *App, rt *runtime) error {
	if err := rt.cfg.ValidateOAuth(); err != nil {
		return err
	}

	flow := auth.NewProviderFlow(&auth.ProviderFlowConfig{
		AuthURL:     rt.cfg.OAuthAuthURL,
		TokenURL:    rt.cfg.OAuthTokenURL,
		ClientID:    rt.cfg.OAuthClientID,
		ListenAddr:  rt.cfg.OAuthListenAddr,
		WaitTimeout: rt.cfg.OAuthCallbackTTL,
		Logger:      rt.log,
	}, rt.session, rt.api)

	authURL, err := flow.Begin()
	if err != nil {
		return err
	}

	fmt.Fprintln(app.Out, "Open this URL in your browser to sign in:")
	fmt.Fprintln(app.Out)
	fmt.Fprintf(app.Out, "  %s\n", authURL)
	fmt.Fprintln(app.Out)
	fmt.Fprintln(app.Out, "Waiting for the provider callback...")

	user, err := flow.Complete(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Logged in as %s (%d credits)\n", user.Email, user.Credits)
	return nil
}

func newLogoutCmd(app *App, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and discard stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.session.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(app *App, verbose *bool) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			if refresh {
				if _, err := rt.session.RefreshUser(ctx); err != nil {
					return err
				}
			}

			user, ok := rt.session.CurrentUser()
			if !ok {
				fmt.Fprintln(app.Out, "Not logged in")
				return nil
			}

			fmt.Fprintf(app.Out, "Email:    %s\n", user.Email)
			if user.Username != "" {
				fmt.Fprintf(app.Out, "Username: %s\n", user.Username)
			}
			fmt.Fprintf(app.Out, "Credits:  %d\n", user.Credits)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-fetch the account from the server")

	return cmd
}

func newStylesCmd(app *App, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "styles",
		Short: "List available generation styles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			styles, err := rt.api.ListStyles(ctx)
			if err != nil {
				return err
			}

			for _, style := range styles {
				fmt.Fprintf(app.Out, "%-14s %s", style.ID, style.Name)
				if style.Description != "" {
					fmt.Fprintf(app.Out, " - %s", style.Description)
				}
				fmt.Fprintln(app.Out)
			}
			return nil
		},
	}
}

func newUploadCmd(app *App, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a pet photo for generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			img, err := uploadPhoto(ctx, rt, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(app.Out, "Uploaded %s (%s) as %s\n",
				img.Filename, humanize.Bytes(uint64(img.FileSize)), img.ID)
			return nil
		},
	}
}

func uploadPhoto(ctx context.Context, rt *runtime, path string) (*models.UploadedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rt.api.UploadImage(ctx, filepath.Base(path), data)
}

func newGenerateCmd(app *App, verbose *bool) *cobra.Command {
	var styleID, output string
	var show bool

	cmd := &cobra.Command{
		Use:   "generate <path|image-id>",
		Short: "Generate a styled avatar and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runGenerate(ctx, app, rt, args[0], styleID, output, show)
		},
	}

	cmd.Flags().StringVarP(&styleID, "style", "s", "", "style id (required, see 'pawgen styles')")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output filename")
	cmd.Flags().BoolVar(&show, "show", false, "display the avatar inline (kitty-compatible terminals)")
	cobra.CheckErr(cmd.MarkFlagRequired("style"))

	return cmd
}

func runGenerate(ctx context.Context, app *App, rt *runtime, source, styleID, output string, show bool) error {
	imageID := source
	if _, err := os.Stat(source); err == nil {
		img, err := uploadPhoto(ctx, rt, source)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "Uploaded %s as %s\n", img.Filename, img.ID)
		imageID = img.ID
	} else if _, err := rt.api.GetImage(ctx, imageID); err != nil {
		return fmt.Errorf("source image %s: %w", imageID, err)
	}

	job, err := rt.api.CreateGeneration(ctx, &models.GenerationRequest{
		SourceImageID: imageID,
		StyleID:       styleID,
	})
	if err != nil {
		return err
	}

	recordJob(ctx, rt, job, lookupStyleName(ctx, rt, styleID))
	fmt.Fprintf(app.Out, "Job %s submitted, waiting...\n", job.ID)

	final, err := rt.poller.Wait(ctx, job.ID)
	if err != nil {
		return err
	}
	finishJob(ctx, rt, final)

	if final.Status == models.StatusFailed {
		return fmt.Errorf("generation failed: %s", final.ErrorMessage)
	}

	path, err := rt.saver.SaveResult(ctx, final, output)
	if err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Saved: %s\n", path)
	fmt.Fprintf(app.Out, "Credits spent: %d\n", final.CreditsCost)

	if show {
		if !display.IsTerminalSupported() {
			fmt.Fprintln(app.Err, "Warning: terminal does not support inline images")
			return nil
		}
		if err := display.New(app.Out).ShowFile(path); err != nil {
			fmt.Fprintf(app.Err, "Warning: failed to display: %v\n", err)
		}
	}
	return nil
}

func lookupStyleName(ctx context.Context, rt *runtime, styleID string) string {
	styles, err := rt.api.ListStyles(ctx)
	if err != nil {
		return ""
	}
	for _, st := range styles {
		if st.ID == styleID {
			return st.Name
		}
	}
	return ""
}

func recordJob(ctx context.Context, rt *runtime, job *models.GenerationJob, styleName string) {
	rec := &store.JobRecord{
		ID:            job.ID,
		SourceImageID: job.SourceImageID,
		StyleID:       job.StyleID,
		StyleName:     styleName,
		Status:        job.Status,
		CreditsCost:   job.CreditsCost,
		CreatedAt:     job.CreatedAt,
	}
	if err := rt.store.RecordJob(ctx, rec); err != nil {
		rt.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to record job")
	}
}

func finishJob(ctx context.Context, rt *runtime, job *models.GenerationJob) {
	completed := time.Now()
	if job.CompletedAt != nil {
		completed = *job.CompletedAt
	}
	err := rt.store.FinishJob(ctx, job.ID, job.Status, job.ResultImageURL, job.ErrorMessage, completed)
	if err != nil {
		rt.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to record job result")
	}
}

func newBatchCmd(app *App, verbose *bool) *cobra.Command {
	var styleID, outputDir string
	var parallel int
	var stopOnError bool

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Generate avatars for every photo in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			photos, err := batch.CollectPhotos(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Processing %d photo(s) with style %s\n", len(photos), styleID)

			proc := batch.NewProcessor(rt.api, rt.poller, rt.saver, rt.store, app.Out, app.Err)
			results, err := proc.Process(ctx, photos, &batch.Options{
				StyleID:     styleID,
				StyleName:   lookupStyleName(ctx, rt, styleID),
				OutputDir:   outputDir,
				Parallel:    parallel,
				StopOnError: stopOnError,
			})

			succeeded, failed, credits := 0, 0, 0
			for _, res := range results {
				if res.JobID == "" && res.Error == nil {
					continue // never started
				}
				if res.Error != nil {
					failed++
					fmt.Fprintf(app.Err, "  %s: %v\n", filepath.Base(res.Source), res.Error)
					continue
				}
				succeeded++
				credits += res.Credits
			}
			fmt.Fprintf(app.Out, "Done: %d succeeded, %d failed, %d credits spent\n",
				succeeded, failed, credits)

			return err
		},
	}

	cmd.Flags().StringVarP(&styleID, "style", "s", "", "style id (required, see 'pawgen styles')")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for generated avatars")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "number of photos to process at once")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "abort the batch on the first failure")
	cobra.CheckErr(cmd.MarkFlagRequired("style"))

	return cmd
}

func newStatusCmd(app *App, verbose *bool) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			var job *models.GenerationJob
			if wait {
				job, err = rt.poller.Wait(ctx, args[0])
			} else {
				job, err = rt.api.GetGeneration(ctx, args[0])
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(app.Out, "Job %s: %s\n", job.ID, job.Status)
			if job.ResultImageURL != "" {
				fmt.Fprintf(app.Out, "Result: %s\n", job.ResultImageURL)
			}
			if job.ErrorMessage != "" {
				fmt.Fprintf(app.Out, "Error: %s\n", job.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")

	return cmd
}

func newHistoryCmd(app *App, verbose *bool) *cobra.Command {
	var local bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past generations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			if local {
				jobs, err := rt.store.ListJobs(ctx, limit)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(app.Out, "No recorded jobs yet")
					return nil
				}
				for i, job := range jobs {
					fmt.Fprintf(app.Out, "[%d] %s %-11s %s\n",
						i+1, job.CreatedAt.Format("2006-01-02 15:04"), job.Status, job.StyleName)
				}
				return nil
			}

			page, err := rt.api.GetHistory(ctx, limit, offset)
			if err != nil {
				return err
			}
			if len(page.Items) == 0 {
				fmt.Fprintln(app.Out, "No history yet")
				return nil
			}
			for i, item := range page.Items {
				fmt.Fprintf(app.Out, "[%d] %s %-11s %s\n",
					offset+i+1, item.CreatedAt.Format("2006-01-02 15:04"), item.Status, item.StyleName)
			}
			if page.HasMore {
				fmt.Fprintf(app.Out, "... %d of %d shown, use --offset for more\n",
					offset+len(page.Items), page.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "show the local job journal instead of the server history")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")

	return cmd
}

func newCreditsCmd(app *App, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show credit balance and spend recorded locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			user, err := rt.session.RefreshUser(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Balance: %d credits\n", user.Credits)

			total, err := rt.store.TotalSpend(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Spent here: %d credits over %d job(s)\n", total.Credits, total.JobCount)

			now := time.Now()
			midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			today, err := rt.store.SpendSince(ctx, midnight)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Today: %d credits (%d job(s))\n", today.Credits, today.JobCount)

			byStyle, err := rt.store.SpendByStyle(ctx)
			if err != nil {
				return err
			}
			for _, st := range byStyle {
				name := st.StyleName
				if name == "" {
					name = st.StyleID
				}
				fmt.Fprintf(app.Out, "  %-14s %d credits (%d job(s))\n", name, st.Credits, st.JobCount)
			}
			return nil
		},
	}
}

func newShellCmd(app *App, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start interactive mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			rt, err := app.bootstrap(ctx, *verbose)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Long-lived session: keep tokens fresh in the background.
			rt.session.StartAutoRefresh()

			sh := shell.New(&shell.Config{
				In:      app.reader(),
				Out:     app.Out,
				Err:     app.Err,
				API:     rt.api,
				Session: rt.session,
				Poller:  rt.poller,
				Saver:   rt.saver,
				Store:   rt.store,
			})

			return sh.Run(ctx)
		},
	}
}
