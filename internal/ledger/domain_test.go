// internal/ledger/domain_test.go
package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorrowerConstructors(t *testing.T) {
	id := uuid.New()

	student := Student(id)
	assert.Equal(t, BorrowerStudent, student.Kind)
	assert.Equal(t, id, student.Primary())
	assert.False(t, student.IsGroup())

	staff := Staff(id)
	assert.Equal(t, BorrowerStaff, staff.Kind)
	assert.Equal(t, id, staff.Primary())
}

func TestStudentGroupDedupes(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	group := StudentGroup(a, b, a, uuid.Nil)

	assert.Equal(t, BorrowerGroup, group.Kind)
	assert.True(t, group.IsGroup())
	require.Len(t, group.MemberIDs, 2)
	assert.Equal(t, a, group.Primary())
}

func TestBorrowerValidate(t *testing.T) {
	tests := []struct {
		name     string
		borrower Borrower
		wantErr  error
	}{
		{"student ok", Student(uuid.New()), nil},
		{"staff ok", Staff(uuid.New()), nil},
		{"group of two", StudentGroup(uuid.New(), uuid.New()), nil},
		{"group of one", StudentGroup(uuid.New()), nil},
		{"empty group", StudentGroup(), ErrEmptyGroup},
		{"group of only nils", StudentGroup(uuid.Nil), ErrEmptyGroup},
		{"student with no member", Borrower{Kind: BorrowerStudent}, ErrEmptyGroup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.borrower.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
