package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

const studentColumns = `student_id, first, last, institution, gender, birth, phone, email, email_normalized,
assigned_email, password, assigned_password, verification_status, verified_with_email, google_email,
verified_with_name, verified_at, deleted, activity_log, login_count, created_at, updated_at,
id_changed_from, id_changed_at, id_changed_by, record_state`

// API ordering fields -> columns
var studentOrderColumns = map[string]string{
	"id":          "student_id",
	"first":       "first",
	"last":        "last",
	"institution": "institution",
	"created_at":  "created_at",
	"updated_at":  "updated_at",
}

type studentRow struct {
	StudentID          string      `db:"student_id"`
	First              string      `db:"first"`
	Last               string      `db:"last"`
	Institution        string      `db:"institution"`
	Gender             string      `db:"gender"`
	Birth              string      `db:"birth"`
	Phone              string      `db:"phone"`
	Email              null.String `db:"email"`
	EmailNormalized    null.String `db:"email_normalized"`
	AssignedEmail      null.String `db:"assigned_email"`
	Password           null.String `db:"password"`
	AssignedPassword   null.String `db:"assigned_password"`
	VerificationStatus null.String `db:"verification_status"`
	VerifiedWithEmail  null.String `db:"verified_with_email"`
	GoogleEmail        null.String `db:"google_email"`
	VerifiedWithName   null.String `db:"verified_with_name"`
	VerifiedAt         null.Time   `db:"verified_at"`
	Deleted            bool        `db:"deleted"`
	ActivityLog        null.JSON   `db:"activity_log"`
	LoginCount         int         `db:"login_count"`
	CreatedAt          time.Time   `db:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"`
	IDChangedFrom      null.String `db:"id_changed_from"`
	IDChangedAt        null.Time   `db:"id_changed_at"`
	IDChangedBy        null.String `db:"id_changed_by"`
	RecordState        string      `db:"record_state"`
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func toStudentRow(s student.Student) (studentRow, error) {
	row := studentRow{
		StudentID:          s.StudentID,
		First:              s.First,
		Last:               s.Last,
		Institution:        string(s.Institution),
		Gender:             s.Gender,
		Birth:              s.Birth,
		Phone:              s.Phone,
		Email:              nullString(s.Email),
		EmailNormalized:    nullString(s.EmailNormalized),
		AssignedEmail:      nullString(s.AssignedEmail),
		Password:           nullString(s.Password),
		AssignedPassword:   nullString(s.AssignedPassword),
		VerificationStatus: nullString(string(s.VerificationStatus)),
		VerifiedWithEmail:  nullString(s.VerifiedWithEmail),
		GoogleEmail:        nullString(s.GoogleEmail),
		VerifiedWithName:   nullString(s.VerifiedWithName),
		VerifiedAt:         nullTime(s.VerifiedAt),
		Deleted:            s.Deleted,
		LoginCount:         s.LoginCount,
		CreatedAt:          s.CreatedAt.UTC(),
		UpdatedAt:          s.UpdatedAt.UTC(),
		IDChangedFrom:      nullString(s.IDChangedFrom),
		IDChangedAt:        nullTime(s.IDChangedAt),
		IDChangedBy:        nullString(s.IDChangedBy),
		RecordState:        string(s.State()),
	}
	log := s.ActivityLog
	if log == nil {
		log = []student.ActivityEntry{}
	}
	if err := row.ActivityLog.Marshal(log); err != nil {
		return studentRow{}, errors.Wrap(err, "encoding activity log")
	}
	return row, nil
}

func (row studentRow) student() (student.Student, error) {
	s := student.Student{
		StudentID:          row.StudentID,
		First:              row.First,
		Last:               row.Last,
		Institution:        student.Institution(row.Institution),
		Gender:             row.Gender,
		Birth:              row.Birth,
		Phone:              row.Phone,
		Email:              row.Email.String,
		EmailNormalized:    row.EmailNormalized.String,
		AssignedEmail:      row.AssignedEmail.String,
		Password:           row.Password.String,
		AssignedPassword:   row.AssignedPassword.String,
		VerificationStatus: student.Status(row.VerificationStatus.String),
		VerifiedWithEmail:  row.VerifiedWithEmail.String,
		GoogleEmail:        row.GoogleEmail.String,
		VerifiedWithName:   row.VerifiedWithName.String,
		VerifiedAt:         row.VerifiedAt.Ptr(),
		Deleted:            row.Deleted,
		LoginCount:         row.LoginCount,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
		IDChangedFrom:      row.IDChangedFrom.String,
		IDChangedAt:        row.IDChangedAt.Ptr(),
		IDChangedBy:        row.IDChangedBy.String,
		RecordState:        student.RecordState(row.RecordState),
	}
	if row.ActivityLog.Valid && len(row.ActivityLog.JSON) > 0 {
		if err := row.ActivityLog.Unmarshal(&s.ActivityLog); err != nil {
			return student.Student{}, errors.Wrapf(err, "decoding activity log of %s", row.StudentID)
		}
	}
	return s, nil
}

type studentRepository struct {
	exec core.DBExecutor
	db   core.DB // nil inside a transaction
}

var (
	_ student.Repository = (*studentRepository)(nil) // interface compliance check
	_ student.Transactor = (*studentRepository)(nil)
)

func NewStudentRepository(db core.DB) *studentRepository {
	return &studentRepository{exec: db, db: db}
}

// WithinTx runs fn against a repository bound to a single transaction.
func (repo *studentRepository) WithinTx(ctx context.Context, fn func(repo student.Repository) error) error {
	if repo.db == nil {
		return fn(repo) // already in a transaction
	}
	return withinTx(ctx, repo.db, func(tx core.DBExecutor) error {
		return fn(&studentRepository{exec: tx})
	})
}

func (repo *studentRepository) CreateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	row, err := toStudentRow(s)
	if err != nil {
		return student.Student{}, err
	}
	q := `INSERT INTO students (` + studentColumns + `) VALUES (:student_id, :first, :last, :institution,
:gender, :birth, :phone, :email, :email_normalized, :assigned_email, :password, :assigned_password,
:verification_status, :verified_with_email, :google_email, :verified_with_name, :verified_at, :deleted,
:activity_log, :login_count, :created_at, :updated_at, :id_changed_from, :id_changed_at, :id_changed_by,
:record_state)`
	if _, err = repo.exec.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return student.Student{}, student.ErrIDExists
		}
		return student.Student{}, core.NewStoreError(err, "inserting student")
	}
	return row.student()
}

func (repo *studentRepository) GetStudent(ctx context.Context, id string) (student.Student, error) {
	var row studentRow
	q := `SELECT ` + studentColumns + ` FROM students WHERE student_id = $1`
	if err := repo.exec.GetContext(ctx, &row, q, id); err != nil {
		return student.Student{}, trapNoRowsErr(err, student.ErrNotFound, "getting student")
	}
	return row.student()
}

func (repo *studentRepository) QueryStudents(ctx context.Context, filter student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	var w where
	if filter.Deleted == nil {
		w.add("NOT deleted")
	} else {
		w.add("deleted = ?", *filter.Deleted)
	}

	states := []string{string(student.StateActive)}
	if len(filter.States) > 0 {
		states = states[:0]
		for _, st := range filter.States {
			states = append(states, string(st))
		}
	}
	w.in("record_state", states...)

	if filter.Institution != "" {
		w.add("institution = ?", string(filter.Institution))
	}
	if len(filter.IDs) > 0 {
		w.in("student_id", filter.IDs...)
	}
	if !filter.UpdatedBefore.IsZero() {
		w.add("updated_at < ?", filter.UpdatedBefore.UTC())
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		w.add(`(student_id ILIKE ? OR first ILIKE ? OR last ILIKE ? OR `+
			`COALESCE(NULLIF(email, ''), NULLIF(email_normalized, ''), assigned_email, '') ILIKE ?)`,
			val, val, val, val)
	}

	q := `SELECT ` + studentColumns + ` FROM students` + w.String() +
		` ORDER BY ` + core.OrderByClause(ordering, studentOrderColumns, "student_id ASC")

	var rows []studentRow
	if err := repo.exec.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, core.NewStoreError(err, "querying students")
	}
	students := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		s, err := row.student()
		if err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, nil
}

func (repo *studentRepository) UpdateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	row, err := toStudentRow(s)
	if err != nil {
		return student.Student{}, err
	}
	q := `UPDATE students SET first = :first, last = :last, institution = :institution, gender = :gender,
birth = :birth, phone = :phone, email = :email, email_normalized = :email_normalized,
assigned_email = :assigned_email, password = :password, assigned_password = :assigned_password,
verification_status = :verification_status, verified_with_email = :verified_with_email,
google_email = :google_email, verified_with_name = :verified_with_name, verified_at = :verified_at,
deleted = :deleted, activity_log = :activity_log, login_count = :login_count, updated_at = :updated_at,
id_changed_from = :id_changed_from, id_changed_at = :id_changed_at, id_changed_by = :id_changed_by,
record_state = :record_state WHERE student_id = :student_id`
	res, err := repo.exec.NamedExecContext(ctx, q, row)
	if err != nil {
		return student.Student{}, core.NewStoreError(err, "updating student")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return student.Student{}, student.ErrNotFound
	}
	return row.student()
}

func (repo *studentRepository) DeleteStudents(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	cond, args := inClause("student_id", ids...)
	_, err := repo.exec.ExecContext(ctx, `DELETE FROM students WHERE `+cond, args...)
	return core.NewStoreError(err, "deleting students")
}
