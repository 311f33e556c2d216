package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/template"

	"github.com/fatih/structs"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/molior-deb/molior/common/models"
)

// Template contexts the hook URL and body may reference, e.g.
// {{.build.url}} or {{.platform.distrelease}}.
type repositoryContext struct {
	URL  string `structs:"url"`
	Name string `structs:"name"`
}

type buildContext struct {
	ID        int64  `structs:"id"`
	Status    string `structs:"status"`
	Version   string `structs:"version"`
	URL       string `structs:"url"`
	RawLogURL string `structs:"raw_log_url"`
	Commit    string `structs:"commit"`
	Branch    string `structs:"branch"`
}

type platformContext struct {
	DistRelease  string `structs:"distrelease"`
	Version      string `structs:"version"`
	Architecture string `structs:"architecture"`
}

type maintainerContext struct {
	Name  string `structs:"name"`
	Email string `structs:"email"`
}

type projectContext struct {
	Name    string `structs:"name"`
	Version string `structs:"version"`
}

// runHooks fires the enabled post build hooks registered for the repository
// and project version of the build. Builds without a repository or project
// version, e.g. mirror builds, have no hooks.
func (n *Notifier) runHooks(ctx context.Context, buildID int64) {
	build, err := n.buildStore.Read(ctx, nil, buildID)
	if err != nil {
		n.Errorf("Hooks: error reading build %d: %s", buildID, err)
		return
	}
	if build.SourceRepositoryID == nil || build.ProjectVersionID == nil {
		return
	}
	hooks, err := n.hookStore.ListForBuild(ctx, nil, *build.SourceRepositoryID, *build.ProjectVersionID)
	if err != nil {
		n.Errorf("Hooks: error listing hooks of build %d: %s", buildID, err)
		return
	}
	if len(hooks) == 0 {
		return
	}
	args, err := n.hookArgs(ctx, build)
	if err != nil {
		n.Errorf("Hooks: error loading context of build %d: %s", buildID, err)
		return
	}

	for _, hook := range hooks {
		if !hook.Enabled {
			n.Warnf("Hook %d: not enabled", hook.ID)
			continue
		}
		if !hook.AppliesTo(build.Type) {
			n.Infof("Hook %d: not enabled for %s builds", hook.ID, build.Type)
			continue
		}
		url, err := renderTemplate(hook.URL, args)
		if err != nil {
			n.Errorf("Hook %d: error rendering URL template: %s", hook.ID, err)
			continue
		}
		body := ""
		if hook.Body != "" {
			body, err = renderTemplate(hook.Body, args)
			if err != nil {
				n.Errorf("Hook %d: error rendering body template: %s", hook.ID, err)
				continue
			}
		}
		n.Infof("Triggering hook: %s", url)
		if err := n.deliver(ctx, hook.Method, url, body, hook.SkipSSL); err != nil {
			n.Errorf("Hook: error calling %s %q: %s", hook.Method, url, err)
		}
	}
}

// hookArgs assembles the template context of a build.
func (n *Notifier) hookArgs(ctx context.Context, build *models.Build) (map[string]interface{}, error) {
	repo, err := n.repoStore.Read(ctx, nil, *build.SourceRepositoryID)
	if err != nil {
		return nil, errors.Wrap(err, "error reading source repository")
	}
	projectVersion, err := n.projectVersionStore.Read(ctx, nil, *build.ProjectVersionID)
	if err != nil {
		return nil, errors.Wrap(err, "error reading project version")
	}
	project, err := n.projectVersionStore.ReadProject(ctx, nil, projectVersion.ProjectID)
	if err != nil {
		return nil, errors.Wrap(err, "error reading project")
	}

	platform := platformContext{}
	if projectVersion.BasemirrorID != nil {
		basemirror, err := n.projectVersionStore.Read(ctx, nil, *projectVersion.BasemirrorID)
		if err != nil {
			return nil, errors.Wrap(err, "error reading base mirror")
		}
		mirrorProject, err := n.projectVersionStore.ReadProject(ctx, nil, basemirror.ProjectID)
		if err != nil {
			return nil, errors.Wrap(err, "error reading base mirror project")
		}
		platform = platformContext{
			DistRelease:  mirrorProject.Name,
			Version:      basemirror.Name,
			Architecture: build.Architecture,
		}
	}

	hostname := n.hostname.String()
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	return map[string]interface{}{
		"repository": structs.Map(&repositoryContext{
			URL:  repo.URL,
			Name: repo.Name,
		}),
		"build": structs.Map(&buildContext{
			ID:        build.ID,
			Status:    string(build.State),
			Version:   build.Version,
			URL:       fmt.Sprintf("http://%s/build/%d", hostname, build.ID),
			RawLogURL: fmt.Sprintf("http://%s/buildout/%d/build.log", hostname, build.ID),
			Commit:    build.GitRef,
			Branch:    build.CIBranch,
		}),
		"platform": structs.Map(&platform),
		"maintainer": structs.Map(&maintainerContext{
			Name:  build.Maintainer,
			Email: build.MaintainerEmail,
		}),
		"project": structs.Map(&projectContext{
			Name:    project.Name,
			Version: projectVersion.Name,
		}),
	}, nil
}

func renderTemplate(text string, args map[string]interface{}) (string, error) {
	tmpl, err := template.New("hook").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, args); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// deliver sends one hook request. POST bodies must be valid JSON, the
// content type receivers expect.
func (n *Notifier) deliver(ctx context.Context, method, url, body string, skipSSL bool) error {
	client := n.httpClient
	if skipSSL {
		client = n.insecureClient
	}

	var req *retryablehttp.Request
	var err error
	switch strings.ToUpper(method) {
	case http.MethodPost:
		if !json.Valid([]byte(body)) {
			return errors.New("body is not valid JSON")
		}
		req, err = retryablehttp.NewRequest(http.MethodPost, url, []byte(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
	case http.MethodGet:
		req, err = retryablehttp.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return err
		}
	default:
		return errors.Errorf("unsupported hook method %q", method)
	}

	req = req.WithContext(ctx)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.Warnf("Hook %s %q returned %d", method, url, resp.StatusCode)
	}
	return nil
}
