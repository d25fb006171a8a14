package identity

import "context"

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

type MappingRepository interface {
	Create(ctx context.Context, m *Mapping) error
	Exists(ctx context.Context, caretakerID, patientID int64) (bool, error)
	ListPatients(ctx context.Context, caretakerID int64, limit, offset int) ([]*User, int, error)
}
