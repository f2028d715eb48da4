package store

import (
	"database/sql"
	"time"
)

// CreateUser inserts a directory entry. Fails on duplicate uid or email.
func (db *DB) CreateUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (uid, email, avatar, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.UID, u.Email, u.Avatar, u.PasswordHash, now)
	return err
}

// GetUser returns a user by uid, or nil when unknown.
func (db *DB) GetUser(uid string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT uid, email, avatar, password_hash FROM users WHERE uid = ?`, uid).
		Scan(&u.UID, &u.Email, &u.Avatar, &u.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail returns a user by email, or nil when unknown.
func (db *DB) GetUserByEmail(email string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT uid, email, avatar, password_hash FROM users WHERE email = ?`, email).
		Scan(&u.UID, &u.Email, &u.Avatar, &u.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns the whole directory ordered by email.
func (db *DB) ListUsers() ([]User, error) {
	rows, err := db.Query(`SELECT uid, email, avatar FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UID, &u.Email, &u.Avatar); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
