package student

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveStatus(t *testing.T) {
	tests := []struct {
		name string
		s    Student
		want Status
	}{
		{
			name: "mismatch without used email is pending",
			s:    Student{VerificationStatus: StatusMismatch, Email: "ana.gomez@gmail.com"},
			want: StatusPending,
		},
		{
			name: "verified with used email",
			s:    Student{VerificationStatus: StatusVerified, Email: "ana.gomez", VerifiedWithEmail: "ana.gomez@gmail.com"},
			want: StatusVerified,
		},
		{
			name: "pending short-circuits even with a different used email",
			s:    Student{VerificationStatus: StatusPending, Email: "ana.gomez", VerifiedWithEmail: "otro@gmail.com"},
			want: StatusPending,
		},
		{
			name: "absent status is pending",
			s:    Student{Email: "ana.gomez", VerifiedWithEmail: "ana.gomez@gmail.com"},
			want: StatusPending,
		},
		{
			name: "verified without used email falls back to pending",
			s:    Student{VerificationStatus: StatusVerified, Email: "ana.gomez"},
			want: StatusPending,
		},
		{
			name: "mismatch with matching used email is verified",
			s:    Student{VerificationStatus: StatusMismatch, Email: "ana.gomez", VerifiedWithEmail: " Ana.Gomez@GMAIL.com "},
			want: StatusVerified,
		},
		{
			name: "mismatch with different used email",
			s:    Student{VerificationStatus: StatusMismatch, Email: "ana.gomez@gmail.com", VerifiedWithEmail: "otro@gmail.com"},
			want: StatusMismatch,
		},
		{
			name: "google email counts as used",
			s:    Student{VerificationStatus: StatusMismatch, Email: "ana.gomez@gmail.com", GoogleEmail: "otro@gmail.com"},
			want: StatusMismatch,
		},
		{
			name: "assigned email resolved through emailNormalized",
			s:    Student{VerificationStatus: StatusMismatch, EmailNormalized: "laura.martinez", VerifiedWithEmail: "laura.martinez@gmail.com"},
			want: StatusVerified,
		},
		{
			name: "unknown status compares addresses",
			s:    Student{VerificationStatus: "LEGACY", Email: "ana.gomez", VerifiedWithEmail: "ana.gomez@gmail.com"},
			want: StatusVerified,
		},
		{
			name: "unknown status with different address",
			s:    Student{VerificationStatus: "LEGACY", Email: "ana.gomez", VerifiedWithEmail: "otro@gmail.com"},
			want: StatusMismatch,
		},
		{
			name: "unknown status without used email",
			s:    Student{VerificationStatus: "LEGACY", Email: "ana.gomez"},
			want: StatusPending,
		},
		{
			name: "blank used email is absent",
			s:    Student{VerificationStatus: StatusVerified, Email: "ana.gomez", VerifiedWithEmail: "   "},
			want: StatusPending,
		},
		{
			name: "empty record",
			want: StatusPending,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveStatus(tt.s))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Juan.Perez@GMAIL.com", "juan.perez"},
		{" juan.perez ", "juan.perez"},
		{"juan.perez@school.edu.co", "juan.perez@school.edu.co"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEmail(tt.in))
		})
	}
}

func TestStudentAliases(t *testing.T) {
	s := Student{EmailNormalized: "laura.martinez", AssignedEmail: "lm@school.edu", AssignedPassword: "Ietac1003", GoogleEmail: "g@gmail.com"}
	assert.Equal(t, "laura.martinez", s.AssignedAddress())
	assert.Equal(t, "g@gmail.com", s.UsedAddress())
	assert.Equal(t, "Ietac1003", s.Credential())

	s.Email, s.Password, s.VerifiedWithEmail = "laura@gmail.com", "pwd", "v@gmail.com"
	assert.Equal(t, "laura@gmail.com", s.AssignedAddress())
	assert.Equal(t, "v@gmail.com", s.UsedAddress())
	assert.Equal(t, "pwd", s.Credential())
}
