package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academy/core"
	"github.com/trezcool/academy/core/training"
	"github.com/trezcool/academy/core/user"
	inmemdb "github.com/trezcool/academy/storage/database/inmem"
	"github.com/trezcool/academy/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	t.Helper()
	conf := core.NewTestConfig()

	// set up DB & repos
	db := inmemdb.NewDB()
	usrRepo = inmemdb.NewUserRepository(db)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	training.InitValidators(validate, translator, conf.Training.MinRecapLength)

	// start CLI
	return &commandLine{
		usrRepo:     usrRepo,
		validate:    validate,
		trainingSvc: training.NewService(training.ServiceDeps{Repos: db.TrainingRepositories(), Conf: conf}),
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), tt.wantErrStr)
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var gotCommands []string
	migrateFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		gotCommands = append(gotCommands, command)
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "certificates", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
	assert.Equal(t, []string{"up", "up-to", "down-to", "status", "create"}, gotCommands)
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)

	existing := testutil.CreateUser(t, usrRepo, "Old Timer", "old", "old@test.vn", "S3cret!pass", user.RoleSpecialist, false)

	type extra struct {
		pwd      string
		wantRole string
		wantName string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "newbie"}, wantErr: errHelp},
		{name: "unknown role", args: []string{"adduser", "-username", "newbie", "-role", "boss"}, extra: extra{pwd: "pwd"}, wantErr: errUnknownRole},
		{
			name: "create", args: []string{"adduser", "-username", "Newbie", "-email", "newbie@test.vn"},
			extra: extra{pwd: "pwd", wantRole: user.RoleProbation, wantName: "newbie"},
		},
		{
			name: "create admin", args: []string{"adduser", "-email", "boss@test.vn", "-name", "The Boss", "-role", user.RoleSpecialist, "-admin"},
			extra: extra{pwd: "pwd", wantRole: user.RoleAdmin, wantName: "The Boss"},
		},
		{
			name: "update existing", args: []string{"adduser", "-email", "old@test.vn", "-role", user.RoleDeptHead},
			extra: extra{pwd: "new-pwd", wantRole: user.RoleDeptHead, wantName: existing.Name},
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		ex, _ := tt.extra.(extra)
		readPasswordFunc = func(fd int) ([]byte, error) {
			return []byte(ex.pwd), nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			checkErr(t, tt, err)
			if err != nil {
				return
			}

			key := tt.args[2]
			usr, err := usrRepo.GetUser(context.Background(), user.GetFilter{UsernameOrEmail: core.CleanString(key, true)})
			require.NoError(t, err)
			assert.Equal(t, ex.wantRole, usr.Role)
			assert.Equal(t, ex.wantName, usr.Name)
			assert.True(t, usr.Active())
			assert.NoError(t, usr.CheckPassword(ex.pwd))
		})
	}

	users, err := usrRepo.QueryUsers(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@test.vn", "mdr", "", true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", "AWE@test.vn"}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			checkErr(t, tt, err)
			if err != nil {
				return
			}

			refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
			assert.NoError(t, refreshedUsr.CheckPassword(tt.extra.(extra).pwd))
		})
	}
}

func Test_commandLine_seedExercises(t *testing.T) {
	dir := t.TempDir()
	writeSeed := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o600))
		return path
	}

	valid := writeSeed("valid.json", `[
		{"title": "Greeting", "order_index": 0, "video_url": "https://videos.test/e0.mp4", "min_review_videos": 2,
		 "questions": [
			{"prompt": "Say hi?", "options": ["Yes", "No"], "correct_option": 0},
			{"kind": "practice_test", "prompt": "Smile?", "options": ["Yes", "No"], "correct_option": 0}
		 ]},
		{"title": "Selling", "order_index": 1, "require_practice_test": true}
	]`)
	badQuestion := writeSeed("bad_question.json", `[
		{"title": "Greeting", "questions": [{"prompt": "Say hi?", "options": ["Yes"], "correct_option": 0}]}
	]`)
	badJSON := writeSeed("bad.json", `{"title": "Greeting"`)
	sameOrder := writeSeed("same_order.json", `[
		{"title": "Greeting", "order_index": 3},
		{"title": "Selling", "order_index": 3}
	]`)

	tests := []cliTest{
		{name: "no file", args: []string{"seedexercises"}, wantErr: errHelp},
		{name: "missing file", args: []string{"seedexercises", "-file", filepath.Join(dir, "lol.json")}, wantErrStr: "reading seed file"},
		{name: "invalid json", args: []string{"seedexercises", "-file", badJSON}, wantErrStr: "decoding seed file"},
		{name: "invalid question", args: []string{"seedexercises", "-file", badQuestion}, wantErrStr: "exercise #0: question #0"},
		{name: "duplicate order", args: []string{"seedexercises", "-file", sameOrder}, wantErrStr: "exercise #1: order_index 3 already used by exercise #0"},
		{name: "seeded", args: []string{"seedexercises", "-file", valid}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			cli := setup(t)
			err := cli.run(args)
			checkErr(t, tt, err)

			ctx := context.Background()
			exercises, err := cli.trainingSvc.FetchExercises(ctx)
			require.NoError(t, err)
			if tt.wantErr != nil || tt.wantErrStr != "" {
				assert.Empty(t, exercises, "nothing is created on error")
				return
			}

			require.Len(t, exercises, 2)
			assert.Equal(t, "Greeting", exercises[0].Title)
			assert.Equal(t, 2, exercises[0].MinReviewVideos)
			assert.True(t, exercises[1].RequirePracticeTest)

			quiz, err := cli.trainingSvc.AllQuestions(ctx, exercises[0].ID, training.KindQuiz)
			require.NoError(t, err)
			assert.Len(t, quiz, 1)
			practice, err := cli.trainingSvc.AllQuestions(ctx, exercises[0].ID, training.KindPracticeTest)
			require.NoError(t, err)
			assert.Len(t, practice, 1)
		})
	}
}
