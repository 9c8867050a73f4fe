package store

import (
	"context"
	"strings"

	"github.com/Mutter0815/liftsmail/internal/mailing"
)

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *Store) CreateGroup(ctx context.Context, userID int64, name string) (mailing.Group, error) {
	g := mailing.Group{UserID: userID, Name: strings.TrimSpace(name)}
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO groups (user_id, name) VALUES ($1,$2)
		RETURNING id, created_at`, g.UserID, g.Name).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return mailing.Group{}, classify(err)
	}
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, id int64) (mailing.Group, error) {
	var g mailing.Group
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM groups
		WHERE id = $1`, id).Scan(&g.ID, &g.UserID, &g.Name, &g.CreatedAt)
	if err != nil {
		return mailing.Group{}, classify(err)
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context, userID int64) ([]mailing.Group, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM groups
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []mailing.Group{}
	for rows.Next() {
		var g mailing.Group
		if err := rows.Scan(&g.ID, &g.UserID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGroup removes the group, its contacts and every session and
// trigger that referenced it.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	return affected(s.DB.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, id))
}

// AddContact stores c under groupID. The address is lower-cased and trimmed;
// a second contact with the same address in one group is ErrDuplicate.
func (s *Store) AddContact(ctx context.Context, groupID int64, c mailing.Contact) (mailing.Contact, error) {
	c.GroupID = groupID
	c.Email = normalizeEmail(c.Email)
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO contacts (group_id, first_name, last_name, email)
		VALUES ($1,$2,$3,$4) RETURNING id`,
		c.GroupID, c.FirstName, c.LastName, c.Email).Scan(&c.ID)
	if err != nil {
		return mailing.Contact{}, classify(err)
	}
	return c, nil
}

func (s *Store) ListContacts(ctx context.Context, groupID int64) ([]mailing.Contact, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, group_id, first_name, last_name, email
		FROM contacts
		WHERE group_id = $1
		ORDER BY id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mailing.Contact
	for rows.Next() {
		var c mailing.Contact
		if err := rows.Scan(&c.ID, &c.GroupID, &c.FirstName, &c.LastName, &c.Email); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteContact(ctx context.Context, groupID, contactID int64) error {
	return affected(s.DB.ExecContext(ctx,
		`DELETE FROM contacts WHERE id=$1 AND group_id=$2`, contactID, groupID))
}

func (s *Store) CreateTemplate(ctx context.Context, t mailing.Template) (mailing.Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO templates (user_id, name, subject, body)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at, updated_at`,
		t.UserID, t.Name, t.Subject, t.Body).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return mailing.Template{}, classify(err)
	}
	return t, nil
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (mailing.Template, error) {
	var t mailing.Template
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, name, subject, body, created_at, updated_at
		FROM templates
		WHERE id = $1`, id).
		Scan(&t.ID, &t.UserID, &t.Name, &t.Subject, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return mailing.Template{}, classify(err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, userID int64) ([]mailing.Template, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, name, subject, body, created_at, updated_at
		FROM templates
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []mailing.Template{}
	for rows.Next() {
		var t mailing.Template
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Subject, &t.Body, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, t mailing.Template) (mailing.Template, error) {
	t.Name = strings.TrimSpace(t.Name)
	err := s.DB.QueryRowContext(ctx, `
		UPDATE templates
		   SET name=$1, subject=$2, body=$3, updated_at=NOW()
		 WHERE id=$4
		RETURNING updated_at`,
		t.Name, t.Subject, t.Body, t.ID).Scan(&t.UpdatedAt)
	if err != nil {
		return mailing.Template{}, classify(err)
	}
	return t, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	return affected(s.DB.ExecContext(ctx, `DELETE FROM templates WHERE id=$1`, id))
}
