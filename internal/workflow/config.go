package workflow

import (
	"errors"
	"fmt"
)

// Defaults applied by NewConfig.
const (
	DefaultLocation  = "us-central1"
	DefaultGitBranch = "test"
)

// ErrInvalidConfig is returned by Validate for incomplete configuration.
var ErrInvalidConfig = errors.New("invalid workflow config")

// Config identifies the Dataform repository and revision to run.
// It is a value type; copies never change after construction.
type Config struct {
	ProjectID string
	Location  string
	RepoName  string
	GitBranch string
}

// NewConfig builds a Config, filling in the default location and branch
// when they are empty.
func NewConfig(projectID, location, repoName, gitBranch string) Config {
	if location == "" {
		location = DefaultLocation
	}
	if gitBranch == "" {
		gitBranch = DefaultGitBranch
	}
	return Config{
		ProjectID: projectID,
		Location:  location,
		RepoName:  repoName,
		GitBranch: gitBranch,
	}
}

// RepoURI returns the fully qualified repository resource name.
func (c Config) RepoURI() string {
	return "projects/" + c.ProjectID + "/locations/" + c.Location + "/repositories/" + c.RepoName
}

// Validate reports whether the fields needed to address a repository are set.
func (c Config) Validate() error {
	switch {
	case c.ProjectID == "":
		return fmt.Errorf("%w: project id is required", ErrInvalidConfig)
	case c.RepoName == "":
		return fmt.Errorf("%w: repository name is required", ErrInvalidConfig)
	case c.Location == "":
		return fmt.Errorf("%w: location is required", ErrInvalidConfig)
	case c.GitBranch == "":
		return fmt.Errorf("%w: git branch is required", ErrInvalidConfig)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("Config(project_id=%s, repo_name=%s, branch=%s)", c.ProjectID, c.RepoName, c.GitBranch)
}
