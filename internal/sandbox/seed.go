package sandbox

import (
	"context"
	"database/sql"
	"fmt"
)

// DemoPrefix marks every seeded name so demo rows are never mistaken for real data.
const DemoPrefix = "[demo] "

type demoBranch struct {
	name     string
	courses  []string
	students []demoStudent
}

type demoStudent struct {
	name    string
	courses []int // indexes into the branch's courses
}

var demoData = []demoBranch{
	{
		name:    "North Academy",
		courses: []string{"Kids Fundamentals", "Adult Advanced"},
		students: []demoStudent{
			{name: "Ana Souza", courses: []int{0}},
			{name: "Ben Carter", courses: []int{0, 1}},
			{name: "Chloe Martin", courses: []int{1}},
			{name: "Dev Patel"},
		},
	},
	{
		name:    "South Academy",
		courses: []string{"Teens Fundamentals"},
		students: []demoStudent{
			{name: "Emma Rossi", courses: []int{0}},
			{name: "Farid Haddad", courses: []int{0}},
		},
	},
}

// Seed inserts the labelled demo roster into an empty database. It reports
// whether anything was inserted.
func (r *Repository) Seed(ctx context.Context) (bool, error) {
	var branches int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches`).Scan(&branches); err != nil {
		return false, err
	}
	if branches > 0 {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range demoData {
		if err := seedBranch(ctx, tx, b); err != nil {
			return false, fmt.Errorf("seed %s: %w", b.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func seedBranch(ctx context.Context, tx *sql.Tx, b demoBranch) error {
	var branchID int64
	if err := tx.QueryRowContext(ctx, `INSERT INTO branches (name) VALUES ($1) RETURNING id`, DemoPrefix+b.name).Scan(&branchID); err != nil {
		return err
	}
	courseIDs := make([]int64, len(b.courses))
	for i, name := range b.courses {
		if err := tx.QueryRowContext(ctx, `INSERT INTO courses (branch_id, name) VALUES ($1, $2) RETURNING id`,
			branchID, DemoPrefix+name).Scan(&courseIDs[i]); err != nil {
			return err
		}
	}
	for _, s := range b.students {
		var studentID int64
		if err := tx.QueryRowContext(ctx, `INSERT INTO students (branch_id, full_name) VALUES ($1, $2) RETURNING id`,
			branchID, DemoPrefix+s.name).Scan(&studentID); err != nil {
			return err
		}
		for _, ci := range s.courses {
			if _, err := tx.ExecContext(ctx, `INSERT INTO enrollments (student_id, course_id) VALUES ($1, $2)`,
				studentID, courseIDs[ci]); err != nil {
				return err
			}
		}
	}
	return nil
}
