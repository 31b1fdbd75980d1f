package workflow

import (
	"errors"
	"testing"
)

func TestRepoURI(t *testing.T) {
	cfg := NewConfig("test-project", "us-central1", "test-repo", "")
	want := "projects/test-project/locations/us-central1/repositories/test-repo"
	if got := cfg.RepoURI(); got != want {
		t.Errorf("RepoURI() = %q, want %q", got, want)
	}
}

func TestRepoURIConcatenation(t *testing.T) {
	tests := []struct{ project, location, repo string }{
		{"p", "europe-west1", "r"},
		{"my-proj-123", "us-east4", "analytics"},
		{"a", "b", "c"},
	}
	for _, tt := range tests {
		cfg := NewConfig(tt.project, tt.location, tt.repo, "main")
		want := "projects/" + tt.project + "/locations/" + tt.location + "/repositories/" + tt.repo
		if got := cfg.RepoURI(); got != want {
			t.Errorf("RepoURI() = %q, want %q", got, want)
		}
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("p", "", "r", "")
	if cfg.Location != DefaultLocation {
		t.Errorf("Location = %q, want %q", cfg.Location, DefaultLocation)
	}
	if cfg.GitBranch != DefaultGitBranch {
		t.Errorf("GitBranch = %q, want %q", cfg.GitBranch, DefaultGitBranch)
	}
}

func TestNewConfigKeepsExplicitValues(t *testing.T) {
	cfg := NewConfig("test-project", "us-central1", "test-repo", "main")
	if cfg.ProjectID != "test-project" || cfg.Location != "us-central1" ||
		cfg.RepoName != "test-repo" || cfg.GitBranch != "main" {
		t.Errorf("NewConfig = %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := NewConfig("p", "", "r", "").Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if err := NewConfig("", "", "r", "").Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing project: err = %v, want ErrInvalidConfig", err)
	}
	if err := NewConfig("p", "", "", "").Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing repo: err = %v, want ErrInvalidConfig", err)
	}
}

func TestConfigString(t *testing.T) {
	cfg := NewConfig("p", "", "r", "main")
	want := "Config(project_id=p, repo_name=r, branch=main)"
	if got := cfg.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
