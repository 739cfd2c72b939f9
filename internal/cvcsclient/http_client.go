package cvcsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/cvcsreplay/cvcsreplay/internal/config"
	"github.com/cvcsreplay/cvcsreplay/internal/model"
)

// httpClient is a deliberately minimal REST client over the CVCS's HTTP
// API. No generic client library exists for an arbitrary enterprise
// CVCS's REST surface, so this component stays on net/http +
// encoding/json rather than inventing a fake third-party dependency.
type httpClient struct {
	endpoint    string
	projectRoot string
	auth        config.AuthMethod
	http        *http.Client
}

func newHTTPClient(cfg *config.Config) *httpClient {
	return &httpClient{
		endpoint:    cfg.TFSEndpoint,
		projectRoot: cfg.ProjectPath,
		auth:        cfg.Auth,
		http:        &http.Client{Timeout: 0}, // no per-operation timeout; caller supplies deadlines via ctx
	}
}

func (c *httpClient) authorize(req *http.Request) {
	switch a := c.auth.(type) {
	case config.BasicAuth:
		req.SetBasicAuth(a.Credential.Username, a.Credential.Password)
	case config.TokenAuth:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case config.IntegratedAuth:
		if a.Credential != nil {
			req.SetBasicAuth(a.Credential.Username, a.Credential.Password)
		}
		// integrated-default: rely on ambient transport-level identity
		// (e.g. Negotiate/Kerberos handled by a RoundTripper the caller
		// installs); nothing to add here.
	}
}

func (c *httpClient) doJSON(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cvcs request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cvcs request %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type wireChangesetSummary struct {
	CID          int       `json:"changesetId"`
	CreationDate time.Time `json:"createdDate"`
}

func (c *httpClient) QueryHistory(ctx context.Context, projectRoot string, fromCID int) ([]model.ChangesetSummary, error) {
	var wire []wireChangesetSummary
	path := fmt.Sprintf("/history?path=%s&fromCID=%d", projectRoot, fromCID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.ChangesetSummary, len(wire))
	for i, w := range wire {
		out[i] = model.ChangesetSummary{CID: w.CID, CreationDate: w.CreationDate}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationDate.Before(out[j].CreationDate) })
	return out, nil
}

type wireChangeset struct {
	CID           int       `json:"changesetId"`
	AuthorDisplay string    `json:"author"`
	CreationDate  time.Time `json:"createdDate"`
	Comment       string    `json:"comment"`
}

func (c *httpClient) GetChangeset(ctx context.Context, cid int) (model.Changeset, error) {
	var wire wireChangeset
	path := fmt.Sprintf("/changesets/%d", cid)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return model.Changeset{}, err
	}
	return model.Changeset{
		CID:           wire.CID,
		AuthorDisplay: wire.AuthorDisplay,
		CreationDate:  wire.CreationDate,
		Comment:       wire.Comment,
	}, nil
}

type wireMergeSource struct {
	SourcePath  string `json:"sourcePath"`
	VersionFrom int    `json:"versionFrom"`
	VersionTo   int    `json:"versionTo"`
}

type wireChange struct {
	ServerPath   string            `json:"path"`
	ItemType     string            `json:"itemType"`
	ChangeType   []string          `json:"changeType"`
	MergeSources []wireMergeSource `json:"mergeSources"`
}

var changeTypeBits = map[string]model.ChangeTypeMask{
	"add":          model.Add,
	"edit":         model.Edit,
	"delete":       model.Delete,
	"rename":       model.Rename,
	"sourceRename": model.SourceRename,
	"branch":       model.Branch,
	"merge":        model.Merge,
	"undelete":     model.Undelete,
	"rollback":     model.Rollback,
	"encoding":     model.Encoding,
}

func (c *httpClient) GetChanges(ctx context.Context, cid int) ([]model.Change, error) {
	var wire []wireChange
	path := fmt.Sprintf("/changesets/%d/changes", cid)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Change, len(wire))
	for i, w := range wire {
		var mask model.ChangeTypeMask
		for _, name := range w.ChangeType {
			mask |= changeTypeBits[name]
		}
		itemType := model.ItemFile
		if w.ItemType == "folder" {
			itemType = model.ItemFolder
		}
		var sources []model.MergeSource
		for _, ms := range w.MergeSources {
			sources = append(sources, model.MergeSource{
				SourcePath:  ms.SourcePath,
				VersionFrom: ms.VersionFrom,
				VersionTo:   ms.VersionTo,
			})
		}
		out[i] = model.Change{
			ServerPath:   w.ServerPath,
			ItemType:     itemType,
			ChangeType:   mask,
			MergeSources: sources,
		}
	}
	return out, nil
}

func (c *httpClient) QueryBranchObjects(ctx context.Context, path string, cid int) ([]BranchObject, error) {
	var out []BranchObject
	p := fmt.Sprintf("/branches?path=%s&cid=%d", unrooted(c.projectRoot, path), cid)
	if err := c.doJSON(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) Download(ctx context.Context, serverPath string, cid int, destPath string) error {
	p := fmt.Sprintf("/items?path=%s&cid=%d", unrooted(c.projectRoot, serverPath), cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+p, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s@%d: %w", serverPath, cid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("downloading %s@%d: status %d: %s", serverPath, cid, resp.StatusCode, string(data))
	}
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

func (c *httpClient) GetTeamProject(ctx context.Context, name string) (ServerItem, error) {
	var out ServerItem
	p := "/projects/" + name
	if err := c.doJSON(ctx, http.MethodGet, p, bytes.NewReader(nil), &out); err != nil {
		return ServerItem{}, err
	}
	return out, nil
}
