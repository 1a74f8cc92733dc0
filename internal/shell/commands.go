package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/petsphoto/pawgen/internal/auth"
	"github.com/petsphoto/pawgen/internal/display"
	"github.com/petsphoto/pawgen/internal/store"
	"github.com/petsphoto/pawgen/pkg/models"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, s *Shell, args []string) error
}

func (s *Shell) registerCommands() {
	commands := []Command{
		&LoginCommand{},
		&LogoutCommand{},
		&WhoamiCommand{},
		&StylesCommand{},
		&UploadCommand{},
		&GenerateCommand{},
		&ShowCommand{},
		&StatusCommand{},
		&HistoryCommand{},
		&CreditsCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	for _, cmd := range commands {
		s.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			s.commands[alias] = cmd
		}
	}
}

// LoginCommand signs in with email and password
type LoginCommand struct{}

func (c *LoginCommand) Name() string        { return "login" }
func (c *LoginCommand) Aliases() []string   { return []string{"signin"} }
func (c *LoginCommand) Description() string { return "Sign in with email and password" }
func (c *LoginCommand) Usage() string       { return "login <email>" }

func (c *LoginCommand) Execute(ctx context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	fmt.Fprint(s.out, "Password: ")
	password, err := s.readLine()
	if err != nil {
		return err
	}

	user, err := s.session.Login(ctx, &models.LoginRequest{
		Email:    args[0],
		Password: password,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Logged in as %s (%d credits)\n", user.Email, user.Credits)
	return nil
}

// LogoutCommand ends the current session
type LogoutCommand struct{}

func (c *LogoutCommand) Name() string        { return "logout" }
func (c *LogoutCommand) Aliases() []string   { return nil }
func (c *LogoutCommand) Description() string { return "Sign out and discard stored credentials" }
func (c *LogoutCommand) Usage() string       { return "logout" }

func (c *LogoutCommand) Execute(ctx context.Context, s *Shell, _ []string) error {
	if err := s.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Logged out")
	return nil
}

// WhoamiCommand shows the current account
type WhoamiCommand struct{}

func (c *WhoamiCommand) Name() string        { return "whoami" }
func (c *WhoamiCommand) Aliases() []string   { return []string{"me"} }
func (c *WhoamiCommand) Description() string { return "Show the signed-in account" }
func (c *WhoamiCommand) Usage() string       { return "whoami [refresh]" }

func (c *WhoamiCommand) Execute(ctx context.Context, s *Shell, args []string) error {
	if len(args) > 0 && strings.EqualFold(args[0], "refresh") {
		if _, err := s.session.RefreshUser(ctx); err != nil {
			return err
		}
	}

	user, ok := s.session.CurrentUser()
	if !ok {
		fmt.Fprintln(s.out, "Not logged in")
		return nil
	}

	fmt.Fprintf(s.out, "Email:    %s\n", user.Email)
	if user.Username != "" {
		fmt.Fprintf(s.out, "Username: %s\n", user.Username)
	}
	fmt.Fprintf(s.out, "Credits:  %d\n", user.Credits)
	return nil
}

// StylesCommand lists the style catalog
type StylesCommand struct{}

func (c *StylesCommand) Name() string        { return "styles" }
func (c *StylesCommand) Aliases() []string   { return []string{"st"} }
func (c *StylesCommand) Description() string { return "List available generation styles" }
func (c *StylesCommand) Usage() string       { return "styles" }

func (c *StylesCommand) Execute(ctx context.Context, s *Shell, _ []string) error {
	styles, err := s.api.ListStyles(ctx)
	if err != nil {
		return err
	}

	if len(styles) == 0 {
		fmt.Fprintln(s.out, "No styles available")
		return nil
	}

	for _, style := range styles {
		fmt.Fprintf(s.out, "  %-14s %s", style.ID, style.Name)
		if style.Description != "" {
			fmt.Fprintf(s.out, " - %s", style.Description)
		}
		fmt.Fprintln(s.out)
	}
	return nil
}

// UploadCommand uploads a source photo
type UploadCommand struct{}

func (c *UploadCommand) Name() string        { return "upload" }
func (c *UploadCommand) Aliases() []string   { return []string{"up"} }
func (c *UploadCommand) Description() string { return "Upload a pet photo for generation" }
func (c *UploadCommand) Usage() string       { return "upload <path>" }

func (c *UploadCommand) Execute(ctx context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	img, err := uploadFile(ctx, s, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Uploaded %s (%s) as %s\n",
		img.Filename, humanize.Bytes(uint64(img.FileSize)), img.ID)
	return nil
}

func uploadFile(ctx context.Context, s *Shell, path string) (*models.UploadedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.api.UploadImage(ctx, filepath.Base(path), data)
}

// GenerateCommand submits a job and waits for the result
type GenerateCommand struct{}

func (c *GenerateCommand) Name() string        { return "generate" }
func (c *GenerateCommand) Aliases() []string   { return []string{"gen", "g"} }
func (c *GenerateCommand) Description() string { return "Generate a styled avatar from a photo" }
func (c *GenerateCommand) Usage() string       { return "generate <path|image-id> <style-id> [output]" }

func (c *GenerateCommand) Execute(ctx context.Context, s *Shell, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	source := args[0]
	styleID := args[1]
	output := ""
	if len(args) == 3 {
		output = args[2]
	}

	// A source that exists on disk is uploaded first; anything else is
	// treated as an already-uploaded image id and checked server-side.
	imageID := source
	if _, err := os.Stat(source); err == nil {
		img, err := uploadFile(ctx, s, source)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Uploaded %s as %s\n", img.Filename, img.ID)
		imageID = img.ID
	} else if _, err := s.api.GetImage(ctx, imageID); err != nil {
		return fmt.Errorf("source image %s: %w", imageID, err)
	}

	job, err := s.api.CreateGeneration(ctx, &models.GenerationRequest{
		SourceImageID: imageID,
		StyleID:       styleID,
	})
	if err != nil {
		return err
	}

	s.recordJob(ctx, job, styleName(ctx, s, styleID))
	fmt.Fprintf(s.out, "Job %s submitted, waiting...\n", job.ID)

	final, err := s.poller.Wait(ctx, job.ID)
	if err != nil {
		return err
	}
	s.finishJob(ctx, final)

	if final.Status == models.StatusFailed {
		return fmt.Errorf("generation failed: %s", final.ErrorMessage)
	}

	path, err := s.saver.SaveResult(ctx, final, output)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Saved: %s\n", path)
	fmt.Fprintf(s.out, "Credits spent: %d\n", final.CreditsCost)

	if display.IsTerminalSupported() {
		if err := display.New(s.out).ShowFile(path); err != nil {
			fmt.Fprintf(s.err, "Warning: failed to display: %v\n", err)
		}
	}
	return nil
}

// ShowCommand renders a saved avatar or a job result inline
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"view"} }
func (c *ShowCommand) Description() string { return "Display an avatar inline" }
func (c *ShowCommand) Usage() string       { return "show <path|job-id>" }

func (c *ShowCommand) Execute(ctx context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	if !display.IsTerminalSupported() {
		return errors.New("terminal does not support inline images")
	}

	d := display.New(s.out)
	if _, err := os.Stat(args[0]); err == nil {
		return d.ShowFile(args[0])
	}

	job, err := s.api.GetGeneration(ctx, args[0])
	if err != nil {
		return err
	}
	return d.ShowResult(ctx, job)
}

func styleName(ctx context.Context, s *Shell, styleID string) string {
	styles, err := s.api.ListStyles(ctx)
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

func (s *Shell) recordJob(ctx context.Context, job *models.GenerationJob, styleName string) {
	rec := &store.JobRecord{
		ID:            job.ID,
		SourceImageID: job.SourceImageID,
		StyleID:       job.StyleID,
		StyleName:     styleName,
		Status:        job.Status,
		CreditsCost:   job.CreditsCost,
		CreatedAt:     job.CreatedAt,
	}
	if err := s.store.RecordJob(ctx, rec); err != nil {
		fmt.Fprintf(s.err, "Warning: failed to record job: %v\n", err)
	}
}

func (s *Shell) finishJob(ctx context.Context, job *models.GenerationJob) {
	completed := time.Now()
	if job.CompletedAt != nil {
		completed = *job.CompletedAt
	}
	err := s.store.FinishJob(ctx, job.ID, job.Status, job.ResultImageURL, job.ErrorMessage, completed)
	if err != nil {
		fmt.Fprintf(s.err, "Warning: failed to record job result: %v\n", err)
	}
}

// StatusCommand checks a single job
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Aliases() []string   { return []string{"stat"} }
func (c *StatusCommand) Description() string { return "Show the status of a generation job" }
func (c *StatusCommand) Usage() string       { return "status <job-id>" }

func (c *StatusCommand) Execute(ctx context.Context, s *Shell, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	job, err := s.api.GetGeneration(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Job %s: %s\n", job.ID, job.Status)
	if job.ResultImageURL != "" {
		fmt.Fprintf(s.out, "Result: %s\n", job.ResultImageURL)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(s.out, "Error: %s\n", job.ErrorMessage)
	}
	return nil
}

// HistoryCommand lists past generations
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "List past generations" }
func (c *HistoryCommand) Usage() string       { return "history [local] [limit]" }

func (c *HistoryCommand) Execute(ctx context.Context, s *Shell, args []string) error {
	local := false
	limit := 20
	for _, arg := range args {
		if strings.EqualFold(arg, "local") {
			local = true
			continue
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: %s", c.Usage())
		}
		limit = n
	}

	if local {
		return c.showLocal(ctx, s, limit)
	}
	return c.showServer(ctx, s, limit)
}

func (c *HistoryCommand) showServer(ctx context.Context, s *Shell, limit int) error {
	page, err := s.api.GetHistory(ctx, limit, 0)
	if err != nil {
		return err
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(s.out, "No history yet")
		return nil
	}

	for i, item := range page.Items {
		fmt.Fprintf(s.out, "  [%d] %s %-11s %s\n",
			i+1,
			item.CreatedAt.Format("2006-01-02 15:04"),
			item.Status,
			item.StyleName)
	}
	if page.HasMore {
		fmt.Fprintf(s.out, "  ... %d more\n", page.Total-len(page.Items))
	}
	return nil
}

func (c *HistoryCommand) showLocal(ctx context.Context, s *Shell, limit int) error {
	jobs, err := s.store.ListJobs(ctx, limit)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(s.out, "No recorded jobs yet")
		return nil
	}

	for i, job := range jobs {
		fmt.Fprintf(s.out, "  [%d] %s %-11s %s\n",
			i+1,
			job.CreatedAt.Format("2006-01-02 15:04"),
			job.Status,
			job.StyleName)
	}
	return nil
}

// CreditsCommand shows the balance and local spend
type CreditsCommand struct{}

func (c *CreditsCommand) Name() string        { return "credits" }
func (c *CreditsCommand) Aliases() []string   { return []string{"balance"} }
func (c *CreditsCommand) Description() string { return "Show credit balance and spend recorded locally" }
func (c *CreditsCommand) Usage() string       { return "credits" }

func (c *CreditsCommand) Execute(ctx context.Context, s *Shell, _ []string) error {
	user, err := s.session.RefreshUser(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			fmt.Fprintln(s.out, "Not logged in")
			return nil
		}
		return err
	}

	fmt.Fprintf(s.out, "Balance: %d credits\n", user.Credits)

	total, err := s.store.TotalSpend(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Spent here: %d credits over %d job(s)\n", total.Credits, total.JobCount)

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := s.store.SpendSince(ctx, midnight)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Today: %d credits (%d job(s))\n", today.Credits, today.JobCount)

	byStyle, err := s.store.SpendByStyle(ctx)
	if err != nil {
		return err
	}
	for _, st := range byStyle {
		name := st.StyleName
		if name == "" {
			name = st.StyleID
		}
		fmt.Fprintf(s.out, "  %-14s %d credits (%d job(s))\n", name, st.Credits, st.JobCount)
	}
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, s *Shell, _ []string) error {
	commands := []Command{
		&LoginCommand{},
		&LogoutCommand{},
		&WhoamiCommand{},
		&StylesCommand{},
		&UploadCommand{},
		&GenerateCommand{},
		&ShowCommand{},
		&StatusCommand{},
		&HistoryCommand{},
		&CreditsCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	fmt.Fprintln(s.out, "Available commands:")
	fmt.Fprintln(s.out)

	for _, cmd := range commands {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(s.out, "  %-12s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(s.out, "               Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the shell
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, s *Shell, _ []string) error {
	fmt.Fprintln(s.out, "Goodbye!")
	s.Stop()
	return nil
}
