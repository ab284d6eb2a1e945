package migration

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

// ReservedName is the system namespace GitLab creates on every instance.
// It is never migrated.
const ReservedName = "lost-and-found"

const (
	DefaultItemDelay     = 3 * time.Second
	DefaultUserItemDelay = 200 * time.Millisecond
)

// Policy captures everything that differs between resource kinds so a
// single orchestrator drives groups, projects and users.
type Policy struct {
	Kind   models.Kind
	Source RecordSource

	// Reserved reports records that are skipped before any remote call.
	Reserved func(rec models.ResourceRecord) (string, bool)

	// Export is nil for kinds that have no archive (users).
	Export *ExportController

	Checker *Checker
	// MatchOutcome is recorded when the target already has the record.
	MatchOutcome models.Outcome

	Import  *ImportController
	Request func(rec models.ResourceRecord, artifact string) platform.ImportRequest

	ItemDelay time.Duration
}

// Settings tune the pacing and polling of the built-in policies.
type Settings struct {
	PerPage          int
	PaceBase         time.Duration
	ItemDelay        time.Duration
	UserItemDelay    time.Duration
	GroupExportGrace time.Duration
	Poll             PollConfig
	IndexTarget      bool
}

// DefaultSettings returns the pacing used against production instances.
func DefaultSettings() Settings {
	return Settings{
		PerPage:          DefaultPerPage,
		PaceBase:         DefaultPaceBase,
		ItemDelay:        DefaultItemDelay,
		UserItemDelay:    DefaultUserItemDelay,
		GroupExportGrace: DefaultGroupExportGrace,
		Poll:             DefaultPollConfig(),
	}
}

// SourceOptions returns the listing filter used to enumerate kind on the
// source instance.
func SourceOptions(kind models.Kind) platform.ListOptions {
	switch kind {
	case models.KindGroup:
		return platform.ListOptions{OrderBy: "id", Sort: "asc", TopLevelOnly: true}
	case models.KindProject:
		return platform.ListOptions{OrderBy: "last_activity_at", Sort: "asc", SearchNamespaces: true}
	}
	return platform.ListOptions{OrderBy: "id", Sort: "asc"}
}

func reservedNamespace(kind models.Kind) func(models.ResourceRecord) (string, bool) {
	return func(rec models.ResourceRecord) (string, bool) {
		if rec.Name != ReservedName {
			return "", false
		}
		return fmt.Sprintf("%s: %s dont need import", kind.Title(), rec.Name), true
	}
}

// reservedUser skips the root administrator and bot accounts.
func reservedUser(rec models.ResourceRecord) (string, bool) {
	switch {
	case rec.Bot:
		return fmt.Sprintf("User %s(%s) is bot user, don't need to import", rec.Username, rec.Email), true
	case rec.ID == 1:
		return fmt.Sprintf("User %s(%s) is admin user, don't need to import", rec.Username, rec.Email), true
	}
	return "", false
}

// GroupPolicy migrates top-level groups from src to dst.
func GroupPolicy(src, dst *platform.Client, store *artifact.Store, s Settings, log *zap.SugaredLogger) *Policy {
	srcGroups, dstGroups := platform.NewGroups(src), platform.NewGroups(dst)
	return &Policy{
		Kind:         models.KindGroup,
		Source:       NewEnumerator(srcGroups, s.PerPage, s.PaceBase, log).Source(SourceOptions(models.KindGroup)),
		Reserved:     reservedNamespace(models.KindGroup),
		Export:       NewExportController(srcGroups, store, s.Poll, s.GroupExportGrace, log),
		Checker:      NewChecker(NewEnumerator(dstGroups, s.PerPage, s.PaceBase, log), s.IndexTarget),
		MatchOutcome: models.OutcomeSkipped,
		Import:       NewImportController(dstGroups, s.Poll, log),
		Request: func(rec models.ResourceRecord, file string) platform.ImportRequest {
			return platform.ImportRequest{Record: rec, Artifact: file, Name: rec.Name, Path: rec.Path}
		},
		ItemDelay: s.ItemDelay,
	}
}

// ProjectPolicy migrates every project from src to dst, keeping each
// project in a namespace of the same full path.
func ProjectPolicy(src, dst *platform.Client, store *artifact.Store, s Settings, log *zap.SugaredLogger) *Policy {
	srcProjects, dstProjects := platform.NewProjects(src), platform.NewProjects(dst)
	return &Policy{
		Kind:         models.KindProject,
		Source:       NewEnumerator(srcProjects, s.PerPage, s.PaceBase, log).Source(SourceOptions(models.KindProject)),
		Reserved:     reservedNamespace(models.KindProject),
		Export:       NewExportController(srcProjects, store, s.Poll, s.GroupExportGrace, log),
		Checker:      NewChecker(NewEnumerator(dstProjects, s.PerPage, s.PaceBase, log), s.IndexTarget),
		MatchOutcome: models.OutcomeWarning,
		Import:       NewImportController(dstProjects, s.Poll, log),
		Request: func(rec models.ResourceRecord, file string) platform.ImportRequest {
			return platform.ImportRequest{
				Record:    rec,
				Artifact:  file,
				Path:      rec.Path,
				Name:      rec.Name,
				Namespace: rec.NamespacePath(),
			}
		},
		ItemDelay: s.ItemDelay,
	}
}

// UserPolicy creates the users yielded by source on dst.
func UserPolicy(source RecordSource, dst *platform.Client, s Settings, log *zap.SugaredLogger) *Policy {
	dstUsers := platform.NewUsers(dst)
	return &Policy{
		Kind:         models.KindUser,
		Source:       source,
		Reserved:     reservedUser,
		Checker:      NewChecker(NewEnumerator(dstUsers, s.PerPage, s.PaceBase, log), s.IndexTarget),
		MatchOutcome: models.OutcomeWarning,
		Import:       NewImportController(dstUsers, s.Poll, log),
		Request: func(rec models.ResourceRecord, _ string) platform.ImportRequest {
			return platform.ImportRequest{Record: rec}
		},
		ItemDelay: s.UserItemDelay,
	}
}

// NewPolicy builds the policy for an export-to-import run of kind.
func NewPolicy(kind models.Kind, src, dst *platform.Client, store *artifact.Store, s Settings, log *zap.SugaredLogger) (*Policy, error) {
	switch kind {
	case models.KindGroup:
		return GroupPolicy(src, dst, store, s, log), nil
	case models.KindProject:
		return ProjectPolicy(src, dst, store, s, log), nil
	case models.KindUser:
		users := NewEnumerator(platform.NewUsers(src), s.PerPage, s.PaceBase, log)
		return UserPolicy(users.Source(SourceOptions(models.KindUser)), dst, s, log), nil
	}
	return nil, errors.Newf("unsupported kind %q", kind)
}
