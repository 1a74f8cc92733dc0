package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/petsphoto/pawgen/internal/config"
	"github.com/petsphoto/pawgen/internal/security"
	"github.com/petsphoto/pawgen/pkg/models"
)

func signedToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return tok
}

func jpegBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	return data
}

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()

	user := models.User{ID: 1, Email: "pet@example.com", Credits: 10}

	mux := http.NewServeMux()
	var srv *httptest.Server

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}

	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email != user.Email {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"detail": "invalid credentials"})
			return
		}
		writeJSON(w, models.TokenResponse{
			AccessToken:  signedToken(t),
			RefreshToken: "refresh-1",
			TokenType:    "bearer",
			User:         user,
		})
	})
	mux.HandleFunc("POST /api/v1/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, user)
	})
	mux.HandleFunc("GET /api/v1/styles/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []models.GenerationStyle{
			{ID: "style-cartoon", Name: "Cartoon", SortOrder: 1},
		})
	})
	mux.HandleFunc("POST /api/v1/images/upload", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, models.UploadedImage{ID: "img-1", Filename: "pet.jpg", FileSize: 4096})
	})
	mux.HandleFunc("POST /api/v1/generations/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, models.GenerationJob{
			ID:            "job-1",
			SourceImageID: "img-1",
			StyleID:       "style-cartoon",
			Status:        models.StatusPending,
			CreatedAt:     time.Now(),
		})
	})
	mux.HandleFunc("GET /api/v1/generations/job-1", func(w http.ResponseWriter, _ *http.Request) {
		now := time.Now()
		writeJSON(w, models.GenerationJob{
			ID:             "job-1",
			SourceImageID:  "img-1",
			StyleID:        "style-cartoon",
			Status:         models.StatusCompleted,
			ResultImageURL: srv.URL + "/results/job-1.png",
			CreditsCost:    1,
			CreatedAt:      now,
			CompletedAt:    &now,
		})
	})
	mux.HandleFunc("GET /api/v1/users/me/history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, models.HistoryPage{
			Items: []models.HistoryItem{
				{ID: "job-1", StyleName: "Cartoon", Status: models.StatusCompleted, CreatedAt: time.Now()},
			},
			Total: 1, Limit: 20,
		})
	})
	mux.HandleFunc("GET /results/job-1.png", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write(jpegBytes(2048)); err != nil {
			t.Errorf("write result: %v", err)
		}
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testApp(t *testing.T, srvURL, dataDir, input string) (*App, *bytes.Buffer) {
	t.Helper()

	out := &bytes.Buffer{}
	app := &App{
		In:  strings.NewReader(input),
		Out: out,
		Err: out,
		LoadConfig: func() (*config.Config, error) {
			return &config.Config{
				APIBaseURL:   srvURL,
				APITimeout:   10 * time.Second,
				PollInterval: 10 * time.Millisecond,
				DataDir:      dataDir,
				LogLevel:     "error",
			}, nil
		},
	}
	return app, out
}

func runCommand(t *testing.T, app *App, args ...string) error {
	t.Helper()
	cmd := newRootCmd(app)
	cmd.SetArgs(args)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)
	return cmd.Execute()
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd(DefaultApp())

	expected := []string{
		"register", "login", "logout", "whoami", "styles",
		"upload", "generate", "batch", "status", "history", "credits", "shell",
	}
	for _, name := range expected {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestLoginCommand(t *testing.T) {
	srv := fakeBackend(t)
	app, out := testApp(t, srv.URL, t.TempDir(), "secretpass99\n")

	if err := runCommand(t, app, "login", "--email", "pet@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}
	if !strings.Contains(out.String(), "Logged in as pet@example.com (10 credits)") {
		t.Errorf("output = %q, want login confirmation", out.String())
	}
}

func TestLoginCommand_MissingEmail(t *testing.T) {
	srv := fakeBackend(t)
	app, _ := testApp(t, srv.URL, t.TempDir(), "")

	err := runCommand(t, app, "login")
	if err == nil || !strings.Contains(err.Error(), "--email is required") {
		t.Errorf("login error = %v, want missing email error", err)
	}
}

func TestLoginCommand_BadPassword(t *testing.T) {
	srv := fakeBackend(t)
	app, _ := testApp(t, srv.URL, t.TempDir(), "secretpass99\n")

	err := runCommand(t, app, "login", "--email", "stranger@example.com")
	if err == nil {
		t.Fatal("login with unknown account succeeded, want error")
	}
}

func TestSessionPersistsAcrossCommands(t *testing.T) {
	srv := fakeBackend(t)
	dataDir := t.TempDir()

	app, _ := testApp(t, srv.URL, dataDir, "secretpass99\n")
	if err := runCommand(t, app, "login", "--email", "pet@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	// A fresh invocation restores the session from disk.
	app2, out := testApp(t, srv.URL, dataDir, "")
	if err := runCommand(t, app2, "whoami"); err != nil {
		t.Fatalf("whoami error = %v", err)
	}
	if !strings.Contains(out.String(), "Email:    pet@example.com") {
		t.Errorf("output = %q, want restored account", out.String())
	}
}

func TestWhoamiLoggedOut(t *testing.T) {
	srv := fakeBackend(t)
	app, out := testApp(t, srv.URL, t.TempDir(), "")

	if err := runCommand(t, app, "whoami"); err != nil {
		t.Fatalf("whoami error = %v", err)
	}
	if !strings.Contains(out.String(), "Not logged in") {
		t.Errorf("output = %q, want not-logged-in notice", out.String())
	}
}

func TestLogoutCommand(t *testing.T) {
	srv := fakeBackend(t)
	dataDir := t.TempDir()

	app, _ := testApp(t, srv.URL, dataDir, "secretpass99\n")
	if err := runCommand(t, app, "login", "--email", "pet@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	app2, out := testApp(t, srv.URL, dataDir, "")
	if err := runCommand(t, app2, "logout"); err != nil {
		t.Fatalf("logout error = %v", err)
	}
	if !strings.Contains(out.String(), "Logged out") {
		t.Errorf("output = %q, want logout confirmation", out.String())
	}

	app3, out3 := testApp(t, srv.URL, dataDir, "")
	if err := runCommand(t, app3, "whoami"); err != nil {
		t.Fatalf("whoami error = %v", err)
	}
	if !strings.Contains(out3.String(), "Not logged in") {
		t.Errorf("output = %q, want signed-out whoami", out3.String())
	}
}

func TestStylesCommand(t *testing.T) {
	srv := fakeBackend(t)
	dataDir := t.TempDir()

	app, _ := testApp(t, srv.URL, dataDir, "secretpass99\n")
	if err := runCommand(t, app, "login", "--email", "pet@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	app2, out := testApp(t, srv.URL, dataDir, "")
	if err := runCommand(t, app2, "styles"); err != nil {
		t.Fatalf("styles error = %v", err)
	}
	if !strings.Contains(out.String(), "Cartoon") {
		t.Errorf("output = %q, want style listing", out.String())
	}
}

func TestUploadCommand_RejectsUnsupportedFile(t *testing.T) {
	srv := fakeBackend(t)
	dataDir := t.TempDir()

	app, _ := testApp(t, srv.URL, dataDir, "secretpass99\n")
	if err := runCommand(t, app, "login", "--email", "pet@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	notes := filepath.Join(t.TempDir(), "notes.txt")
	text := make([]byte, 2048)
	copy(text, []byte("plain text, not a pet photo"))
	if err := os.WriteFile(notes, text, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	app2, _ := testApp(t, srv.URL, dataDir, "")
	err := runCommand(t, app2, "upload", notes)
	if err == nil {
		t.Fatal("upload of a text file succeeded, want validation error")
	}
}

func TestGenerateCommand(t *testing.T) {
	security.SetSkipValidation(true)
	t.Cleanup(func() { security.SetSkipValidation(false) })

	srv := fakeBackend(t)
	dataDir := t.TempDir()

	app, _ := testApp(t, srv.URL, dataDir, "secretpass99\n")
	if err := runCommand(t, app, "login", "--email", "pet@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	tmpDir := t.TempDir()
	photo := filepath.Join(tmpDir, "pet.jpg")
	if err := os.WriteFile(photo, jpegBytes(4096), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	output := filepath.Join(tmpDir, "avatar.png")

	app2, out := testApp(t, srv.URL, dataDir, "")
	err := runCommand(t, app2, "generate", photo, "--style", "style-cartoon", "-o", output)
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}

	if !strings.Contains(out.String(), "Saved: "+output) {
		t.Errorf("output = %q, want saved path", out.String())
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("result file not written: %v", err)
	}

	// The journal feeds history --local on the next invocation.
	app3, out3 := testApp(t, srv.URL, dataDir, "")
	if err := runCommand(t, app3, "history", "--local"); err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out3.String(), "completed") {
		t.Errorf("output = %q, want journaled job", out3.String())
	}
}

func TestStatusCommand(t *testing.T) {
	srv := fakeBackend(t)
	dataDir := t.TempDir()

	app, _ := testApp(t, srv.URL, dataDir, "secretpass99\n")
	if err := runCommand(t, app, "login", "--email", "pet@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	app2, out := testApp(t, srv.URL, dataDir, "")
	if err := runCommand(t, app2, "status", "job-1"); err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out.String(), "Job job-1: completed") {
		t.Errorf("output = %q, want job status", out.String())
	}
}

func TestHistoryLocalEmpty(t *testing.T) {
	srv := fakeBackend(t)
	app, out := testApp(t, srv.URL, t.TempDir(), "")

	if err := runCommand(t, app, "history", "--local"); err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out.String(), "No recorded jobs yet") {
		t.Errorf("output = %q, want empty journal notice", out.String())
	}
}

func TestCreditsCommand(t *testing.T) {
	srv := fakeBackend(t)
	dataDir := t.TempDir()

	app, _ := testApp(t, srv.URL, dataDir, "secretpass99\n")
	if err := runCommand(t, app, "login", "--email", "pet@example.com"); err != nil {
		t.Fatalf("login error = %v", err)
	}

	app2, out := testApp(t, srv.URL, dataDir, "")
	if err := runCommand(t, app2, "credits"); err != nil {
		t.Fatalf("credits error = %v", err)
	}
	if !strings.Contains(out.String(), "Balance: 10 credits") {
		t.Errorf("output = %q, want balance", out.String())
	}
}

func TestRegisterCommand_PasswordMismatch(t *testing.T) {
	srv := fakeBackend(t)
	app, _ := testApp(t, srv.URL, t.TempDir(), "secretpass99\ndifferent99\n")

	err := runCommand(t, app, "register", "--email", "new@example.com")
	if err == nil || !strings.Contains(err.Error(), "passwords do not match") {
		t.Errorf("register error = %v, want password mismatch", err)
	}
}

func TestPromptPassword_ConsecutivePrompts(t *testing.T) {
	out := &bytes.Buffer{}
	app := &App{In: strings.NewReader("first-secret\nsecond-secret\n"), Out: out, Err: out}

	first, err := promptPassword(app, "Password: ")
	if err != nil {
		t.Fatalf("first promptPassword() error = %v", err)
	}
	if first != "first-secret" {
		t.Errorf("first promptPassword() = %q, want %q", first, "first-secret")
	}

	// The second prompt must see the line the first prompt's buffer
	// read ahead over.
	second, err := promptPassword(app, "Confirm password: ")
	if err != nil {
		t.Fatalf("second promptPassword() error = %v", err)
	}
	if second != "second-secret" {
		t.Errorf("second promptPassword() = %q, want %q", second, "second-secret")
	}
}

func TestPromptPassword_NonTerminal(t *testing.T) {
	out := &bytes.Buffer{}
	app := &App{In: strings.NewReader("hunter2secret\n"), Out: out, Err: out}

	got, err := promptPassword(app, "Password: ")
	if err != nil {
		t.Fatalf("promptPassword() error = %v", err)
	}
	if got != "hunter2secret" {
		t.Errorf("promptPassword() = %q, want %q", got, "hunter2secret")
	}
	if !strings.Contains(out.String(), "Password: ") {
		t.Errorf("prompt not written: %q", out.String())
	}
}
