package platform

import (
	"net/url"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// ListOptions is the filter set of a listing endpoint.
type ListOptions struct {
	OrderBy string
	Sort    string
	Search  string

	// groups
	TopLevelOnly bool
	// projects
	SearchNamespaces bool

	Page    int
	PerPage int
}

// orderKeys lists the accepted order_by values per kind.
var orderKeys = map[models.Kind]map[string]bool{
	models.KindGroup: {"id": true, "name": true, "path": true},
	models.KindProject: {
		"id": true, "name": true, "path": true, "created_at": true,
		"updated_at": true, "last_activity_at": true,
	},
	models.KindUser: {
		"id": true, "name": true, "username": true, "created_at": true, "updated_at": true,
	},
}

// Validate rejects filter values the remote endpoint does not accept.
func (o ListOptions) Validate(kind models.Kind) error {
	if o.OrderBy != "" && !orderKeys[kind][o.OrderBy] {
		return errors.Newf("invalid order_by %q for %s listing", o.OrderBy, kind)
	}
	if o.Sort != "" && o.Sort != "asc" && o.Sort != "desc" {
		return errors.Newf("invalid sort %q: want asc or desc", o.Sort)
	}
	if o.TopLevelOnly && kind != models.KindGroup {
		return errors.Newf("top_level_only is only valid for groups")
	}
	if o.SearchNamespaces && kind != models.KindProject {
		return errors.Newf("search_namespaces is only valid for projects")
	}
	if o.PerPage < 0 || o.PerPage > 100 {
		return errors.Newf("per_page %d out of range 1..100", o.PerPage)
	}
	return nil
}

// Values encodes the options as query parameters.
func (o ListOptions) Values() url.Values {
	v := url.Values{}
	if o.OrderBy != "" {
		v.Set("order_by", o.OrderBy)
	}
	if o.Sort != "" {
		v.Set("sort", o.Sort)
	}
	if o.Search != "" {
		v.Set("search", o.Search)
	}
	if o.TopLevelOnly {
		v.Set("top_level_only", "true")
	}
	if o.SearchNamespaces {
		v.Set("search_namespaces", "true")
	}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(o.PerPage))
	}
	return v
}
