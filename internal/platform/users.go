package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// Users wraps the user endpoints. Users have no archive export; "import"
// means creating the account on the target.
type Users struct {
	client *Client
}

// NewUsers creates a Users API on c.
func NewUsers(c *Client) *Users {
	return &Users{client: c}
}

func (u *Users) Kind() models.Kind { return models.KindUser }

// ListPage fetches one page of GET /users.
func (u *Users) ListPage(ctx context.Context, opts ListOptions) (*Page, error) {
	if err := opts.Validate(models.KindUser); err != nil {
		return nil, err
	}
	return u.client.GetPage(ctx, "/users", opts.Values())
}

// copiedUserFields are carried from the source profile to the new account.
var copiedUserFields = []string{
	"bio", "can_create_group", "color_scheme_id", "linkedin", "location",
	"note", "organization", "private_profile", "projects_limit",
	"public_email", "skype", "theme_id", "twitter", "website_url",
}

// CreatePayload builds the POST /users body for a source user. The
// password is random; the user resets it on first login.
func CreatePayload(rec models.ResourceRecord) map[string]interface{} {
	attrs := rec.Attributes()
	payload := map[string]interface{}{
		"email":                 rec.Email,
		"username":              rec.Username,
		"name":                  rec.Name,
		"admin":                 rec.IsAdmin,
		"force_random_password": true,
		"reset_password":        false,
		"skip_confirmation":     true,
	}
	for _, field := range copiedUserFields {
		if v, ok := attrs[field]; ok && v != nil {
			payload[field] = v
		}
	}
	return payload
}

// Import creates the user described by req.Record and blocks the new
// account when the source account was blocked.
func (u *Users) Import(ctx context.Context, req ImportRequest) (*ImportResponse, error) {
	body, _, err := u.client.Post(ctx, "/users", CreatePayload(req.Record))
	if err != nil {
		return nil, err
	}
	var created models.ResourceRecord
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, errors.Wrap(err, "parsing created user")
	}
	resp := &ImportResponse{ID: created.ID, Raw: body}
	if req.Record.State == "blocked" {
		if err := u.Block(ctx, created.ID); err != nil {
			resp.Warning = fmt.Sprintf("User %s(%s) block failed: %s", created.Username, created.Email, ErrorMessage(err))
		}
	}
	return resp, nil
}

// Block blocks user id.
func (u *Users) Block(ctx context.Context, id int) error {
	_, _, err := u.client.Post(ctx, fmt.Sprintf("/users/%d/block", id), nil)
	return err
}
