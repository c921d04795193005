package models

import "time"

// User is the sidebar view of a directory entry. Credentials never leave
// the identity provider.
type User struct {
	ID         string    `db:"id" json:"id" bson:"-"`
	FullName   string    `db:"full_name" json:"fullName" bson:"full_name"`
	Email      string    `db:"email" json:"email" bson:"email"`
	ProfilePic string    `db:"profile_pic" json:"profilePic,omitempty" bson:"profile_pic,omitempty"`
	Bio        string    `db:"bio" json:"bio,omitempty" bson:"bio,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt" bson:"created_at"`
}
