package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/examportal/internal/grading"
	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

// seedData is the JSON layout read by the seed command. Exams refer to
// questions by their key in the same file.
type seedData struct {
	Users     []seedUser     `json:"users"`
	Questions []seedQuestion `json:"questions"`
	Exams     []seedExam     `json:"exams"`
}

type seedUser struct {
	Email         string         `json:"email"`
	Password      string         `json:"password"`
	DisplayName   string         `json:"display_name"`
	Role          model.UserRole `json:"role"`
	ClassGroup    string         `json:"class_group"`
	StudentNumber string         `json:"student_number"`
	Course        string         `json:"course"`
	Year          string         `json:"year"`
}

type seedQuestion struct {
	Key string `json:"key"`
	model.Question
}

type seedExam struct {
	Questions []string `json:"questions"`
	model.Exam
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Import users, questions and exams from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed,
	}
	addStoreFlags(cmd)
	cmd.Flags().Bool("force", false, "Import even if a different seed file was imported before")
	return cmd
}

func runSeed(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	hash := sha256sum(data)
	storedHash, err := db.GetMetadata(ctx, store.MetaSeedHash)
	if err != nil {
		return fmt.Errorf("check seed status: %w", err)
	}
	switch {
	case storedHash == hash:
		slog.Info("seed file unchanged, skipping", "path", path)
		return nil
	case storedHash != "" && !v.GetBool("force"):
		slog.Warn("a different seed file was imported before, skipping (use --force to import anyway)", "path", path)
		return nil
	}

	var seed seedData
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	n, err := applySeed(ctx, db, identity.NewService(db, nil), seed)
	if err != nil {
		return err
	}
	if err := db.SetMetadata(ctx, store.MetaSeedHash, hash); err != nil {
		return fmt.Errorf("record seed import: %w", err)
	}
	slog.Info("imported seed", "path", path, "users", n.users, "questions", n.questions, "exams", n.exams)
	return nil
}

type seedCounts struct {
	users, questions, exams int
}

// checkSeed validates the whole seed and fills exam defaults and totals, so
// that a bad file fails before anything is written.
func checkSeed(seed *seedData) error {
	for i, su := range seed.Users {
		if su.Email == "" || su.Password == "" {
			return fmt.Errorf("seed user %d: email and password are required", i)
		}
		if su.Role != "" && !su.Role.Valid() {
			return fmt.Errorf("seed user %s: invalid role %q", su.Email, su.Role)
		}
	}

	byKey := make(map[string]model.Question, len(seed.Questions))
	for _, sq := range seed.Questions {
		if err := grading.ValidateQuestion(sq.Question); err != nil {
			return fmt.Errorf("seed question %q: %w", sq.Key, err)
		}
		if sq.Key == "" {
			continue
		}
		if _, dup := byKey[sq.Key]; dup {
			return fmt.Errorf("seed question %q: duplicate key", sq.Key)
		}
		byKey[sq.Key] = sq.Question
	}

	for i := range seed.Exams {
		e := &seed.Exams[i].Exam
		if e.Title == "" {
			return fmt.Errorf("seed exam %d: title is required", i)
		}
		if len(seed.Exams[i].Questions) == 0 {
			return fmt.Errorf("seed exam %q: no questions", e.Title)
		}
		e.ApplyDefaults()
		// Totals are computed over keys here and stay valid once keys map to IDs.
		keyed := *e
		keyed.QuestionIDs = seed.Exams[i].Questions
		total, err := grading.MaxScore(keyed, byKey)
		if err != nil {
			return fmt.Errorf("seed exam %q: %w", e.Title, err)
		}
		e.TotalMarks = total
	}
	return nil
}

// applySeed checks the seed, then writes it in dependency order. Users whose
// email is taken are left untouched.
func applySeed(ctx context.Context, db *store.Store, ids *identity.Service, seed seedData) (seedCounts, error) {
	var n seedCounts
	if err := checkSeed(&seed); err != nil {
		return n, err
	}

	for _, su := range seed.Users {
		_, err := ids.SignUp(ctx, identity.SignUpInput{
			Email:         su.Email,
			Password:      su.Password,
			DisplayName:   su.DisplayName,
			Role:          su.Role,
			ClassGroup:    su.ClassGroup,
			StudentNumber: su.StudentNumber,
			Course:        su.Course,
			Year:          su.Year,
		})
		if errors.Is(err, store.ErrEmailTaken) {
			slog.Debug("seed user exists", "email", su.Email)
			continue
		}
		if err != nil {
			return n, fmt.Errorf("seed user %s: %w", su.Email, err)
		}
		n.users++
	}

	keys := make(map[string]string, len(seed.Questions))
	for _, sq := range seed.Questions {
		q := sq.Question
		q.ID = ""
		if err := db.CreateQuestion(ctx, &q); err != nil {
			return n, fmt.Errorf("seed question %q: %w", sq.Key, err)
		}
		if sq.Key != "" {
			keys[sq.Key] = q.ID
		}
		n.questions++
	}

	for _, se := range seed.Exams {
		e := se.Exam
		e.ID = ""
		e.QuestionIDs = make([]string, 0, len(se.Questions))
		for _, key := range se.Questions {
			e.QuestionIDs = append(e.QuestionIDs, keys[key])
		}
		if err := db.CreateExam(ctx, &e); err != nil {
			return n, fmt.Errorf("seed exam %q: %w", e.Title, err)
		}
		n.exams++
	}
	return n, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
