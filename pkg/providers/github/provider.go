// Package github implements the provider adapter for GitHub issues and
// ProjectV2 boards over the GraphQL API. Setup resolves and caches every
// identifier the run needs (repository, label, board, fields, issue types);
// after Setup the caches are read-only, so concurrent phase workers need no
// locking beyond the board-item cache.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
)

// Create steps reported in partial-create errors, in execution order.
const (
	stepCreateIssue = "create_issue"
	stepAddToBoard  = "add_to_board"
	stepSetFields   = "set_fields"
)

// fieldInfo is one resolved ProjectV2 field.
type fieldInfo struct {
	id       string
	dataType string
	// options maps lowercased option names to option IDs (single select).
	options map[string]string
	// iterations maps lowercased iteration titles to iteration IDs.
	iterations map[string]string
}

// Provider is the GitHub adapter.
type Provider struct {
	cfg      *config.Config
	logger   zerolog.Logger
	executor CommandExecutor
	endpoint string
	client   *graphQLClient

	// Caches below are populated by Setup and read-only afterwards.
	owner        string
	repo         string
	repoID       string
	labelID      string
	typeLabelIDs map[engine.ItemType]string
	issueTypeIDs map[engine.ItemType]string
	projectID    string
	fields       map[string]fieldInfo
	caps         engine.Capabilities

	// boardItems maps issue node IDs to their ProjectV2 item IDs.
	mu         sync.Mutex
	boardItems map[string]string
}

// New creates an unconnected provider. Setup must run before any operation.
func New(cfg *config.Config, logger zerolog.Logger) *Provider {
	return &Provider{
		cfg:          cfg,
		logger:       logger.With().Str("component", "provider").Str("provider", "github").Logger(),
		executor:     defaultExecutor,
		endpoint:     defaultEndpoint,
		typeLabelIDs: make(map[engine.ItemType]string),
		issueTypeIDs: make(map[engine.ItemType]string),
		fields:       make(map[string]fieldInfo),
		boardItems:   make(map[string]string),
	}
}

// WithExecutor overrides the command executor used for gh-cli auth.
func (p *Provider) WithExecutor(executor CommandExecutor) *Provider {
	p.executor = executor
	return p
}

// WithEndpoint overrides the GraphQL endpoint. Tests point this at a stub.
func (p *Provider) WithEndpoint(endpoint string) *Provider {
	p.endpoint = endpoint
	return p
}

// Setup authenticates, resolves the repository and label, and, when a board
// URL is configured, the ProjectV2 board and its fields.
func (p *Provider) Setup(ctx context.Context) error {
	token, err := resolveToken(p.cfg, p.executor)
	if err != nil {
		return err
	}
	p.client = newGraphQLClient(p.endpoint, token, p.logger)

	var viewer struct {
		Viewer struct {
			Login string `json:"login"`
		} `json:"viewer"`
	}
	if err := p.client.do(ctx, `query { viewer { login } }`, nil, &viewer); err != nil {
		return engine.NewAuthenticationError("viewer lookup failed", err)
	}
	p.logger.Debug().Str("login", viewer.Viewer.Login).Msg("authenticated")

	parts := strings.SplitN(p.cfg.Target, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return engine.NewConfigError(fmt.Sprintf("target %q is not owner/repo", p.cfg.Target), nil)
	}
	p.owner, p.repo = parts[0], parts[1]

	if err := p.resolveRepository(ctx); err != nil {
		return err
	}

	p.labelID, err = p.ensureLabel(ctx, p.cfg.Label)
	if err != nil {
		return err
	}
	if p.cfg.FieldConfig.CreateTypeStrategy == config.CreateTypeLabel {
		for _, t := range engine.ItemTypes() {
			id, err := p.ensureLabel(ctx, p.typeName(t))
			if err != nil {
				return err
			}
			p.typeLabelIDs[t] = id
		}
	}
	if p.cfg.FieldConfig.CreateTypeStrategy == config.CreateTypeIssueType {
		if err := p.resolveIssueTypes(ctx); err != nil {
			return err
		}
	}

	if p.cfg.BoardURL != "" {
		if err := p.resolveBoard(ctx); err != nil {
			return err
		}
	}

	p.caps = engine.Capabilities{
		DiscoveryByBodyContains:    true,
		SupportsParentRelation:     true,
		SupportsDependencyRelation: true,
		SupportsIssueTypes:         p.cfg.FieldConfig.CreateTypeStrategy != config.CreateTypeNone,
	}
	return nil
}

// Teardown releases the client. Caches die with the provider.
func (p *Provider) Teardown(_ context.Context) error {
	p.client = nil
	return nil
}

// Capabilities reports what this adapter supports.
func (p *Provider) Capabilities() engine.Capabilities {
	return p.caps
}

func (p *Provider) resolveRepository(ctx context.Context) error {
	var out struct {
		Repository struct {
			ID string `json:"id"`
		} `json:"repository"`
	}
	err := p.client.do(ctx, `
		query($owner: String!, $name: String!) {
			repository(owner: $owner, name: $name) { id }
		}`,
		map[string]interface{}{"owner": p.owner, "name": p.repo}, &out)
	if err != nil {
		return engine.NewConfigError(fmt.Sprintf("repository %s not accessible", p.cfg.Target), err)
	}
	if out.Repository.ID == "" {
		return engine.NewConfigError(fmt.Sprintf("repository %s not found", p.cfg.Target), nil)
	}
	p.repoID = out.Repository.ID
	return nil
}

// ensureLabel returns the label's node ID, creating the label when absent.
func (p *Provider) ensureLabel(ctx context.Context, name string) (string, error) {
	var out struct {
		Repository struct {
			Label *struct {
				ID string `json:"id"`
			} `json:"label"`
		} `json:"repository"`
	}
	err := p.client.do(ctx, `
		query($owner: String!, $name: String!, $label: String!) {
			repository(owner: $owner, name: $name) {
				label(name: $label) { id }
			}
		}`,
		map[string]interface{}{"owner": p.owner, "name": p.repo, "label": name}, &out)
	if err != nil {
		return "", err
	}
	if out.Repository.Label != nil {
		return out.Repository.Label.ID, nil
	}

	var created struct {
		CreateLabel struct {
			Label struct {
				ID string `json:"id"`
			} `json:"label"`
		} `json:"createLabel"`
	}
	err = p.client.do(ctx, `
		mutation($input: CreateLabelInput!) {
			createLabel(input: $input) { label { id } }
		}`,
		map[string]interface{}{"input": map[string]interface{}{
			"repositoryId": p.repoID,
			"name":         name,
			"color":        "BFD4F2",
		}}, &created)
	if err != nil {
		return "", err
	}
	p.logger.Info().Str("label", name).Msg("label created")
	return created.CreateLabel.Label.ID, nil
}

// typeName maps a plan item type through create_type_map, defaulting to the
// capitalized type name (Epic, Story, Task).
func (p *Provider) typeName(t engine.ItemType) string {
	if name, ok := p.cfg.FieldConfig.CreateTypeMap[string(t)]; ok {
		return name
	}
	s := strings.ToLower(string(t))
	return strings.ToUpper(s[:1]) + s[1:]
}

func (p *Provider) resolveIssueTypes(ctx context.Context) error {
	var out struct {
		Repository struct {
			IssueTypes struct {
				Nodes []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"nodes"`
			} `json:"issueTypes"`
		} `json:"repository"`
	}
	err := p.client.do(ctx, `
		query($owner: String!, $name: String!) {
			repository(owner: $owner, name: $name) {
				issueTypes(first: 25) { nodes { id name } }
			}
		}`,
		map[string]interface{}{"owner": p.owner, "name": p.repo}, &out)
	if err != nil {
		return err
	}

	byName := make(map[string]string, len(out.Repository.IssueTypes.Nodes))
	for _, node := range out.Repository.IssueTypes.Nodes {
		byName[strings.ToLower(node.Name)] = node.ID
	}
	for _, t := range engine.ItemTypes() {
		name := p.typeName(t)
		id, ok := byName[strings.ToLower(name)]
		if !ok {
			return engine.NewConfigError(
				fmt.Sprintf("repository %s has no issue type %q", p.cfg.Target, name), nil)
		}
		p.issueTypeIDs[t] = id
	}
	return nil
}

// resolveBoard parses the board URL and fetches the ProjectV2 ID plus every
// field with its select options and iterations.
func (p *Provider) resolveBoard(ctx context.Context) error {
	kind, login, number, err := parseBoardURL(p.cfg.BoardURL)
	if err != nil {
		return err
	}

	ownerField := "organization"
	if kind == "users" {
		ownerField = "user"
	}
	query := fmt.Sprintf(`
		query($login: String!, $number: Int!) {
			%s(login: $login) {
				projectV2(number: $number) {
					id
					fields(first: 50) {
						nodes {
							... on ProjectV2FieldCommon { id name dataType }
							... on ProjectV2SingleSelectField {
								options { id name }
							}
							... on ProjectV2IterationField {
								configuration {
									iterations { id title }
								}
							}
						}
					}
				}
			}
		}`, ownerField)

	var out map[string]struct {
		ProjectV2 *struct {
			ID     string `json:"id"`
			Fields struct {
				Nodes []struct {
					ID       string `json:"id"`
					Name     string `json:"name"`
					DataType string `json:"dataType"`
					Options  []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"options"`
					Configuration struct {
						Iterations []struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"iterations"`
					} `json:"configuration"`
				} `json:"nodes"`
			} `json:"fields"`
		} `json:"projectV2"`
	}
	err = p.client.do(ctx, query,
		map[string]interface{}{"login": login, "number": number}, &out)
	if err != nil {
		return engine.NewProjectURLError(p.cfg.BoardURL, err)
	}

	project := out[ownerField].ProjectV2
	if project == nil || project.ID == "" {
		return engine.NewProjectURLError(p.cfg.BoardURL, nil)
	}
	p.projectID = project.ID

	for _, node := range project.Fields.Nodes {
		if node.ID == "" {
			continue
		}
		info := fieldInfo{
			id:         node.ID,
			dataType:   node.DataType,
			options:    make(map[string]string, len(node.Options)),
			iterations: make(map[string]string, len(node.Configuration.Iterations)),
		}
		for _, opt := range node.Options {
			info.options[strings.ToLower(opt.Name)] = opt.ID
		}
		for _, iter := range node.Configuration.Iterations {
			info.iterations[strings.ToLower(iter.Title)] = iter.ID
		}
		p.fields[strings.ToLower(node.Name)] = info
	}
	p.logger.Debug().
		Str("project_id", p.projectID).
		Int("fields", len(p.fields)).
		Msg("board resolved")
	return nil
}

// parseBoardURL accepts https://github.com/orgs/<login>/projects/<n> and the
// users/ variant.
func parseBoardURL(raw string) (kind, login string, number int, err error) {
	u, parseErr := url.Parse(raw)
	if parseErr != nil {
		return "", "", 0, engine.NewProjectURLError(raw, parseErr)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 4 || (segments[0] != "orgs" && segments[0] != "users") || segments[2] != "projects" {
		return "", "", 0, engine.NewProjectURLError(raw, nil)
	}
	number, convErr := strconv.Atoi(segments[3])
	if convErr != nil || number <= 0 {
		return "", "", 0, engine.NewProjectURLError(raw, convErr)
	}
	return segments[0], segments[1], number, nil
}

// boardItemID returns the ProjectV2 item ID of an issue on the configured
// board, resolving and caching it on first use.
func (p *Provider) boardItemID(ctx context.Context, issueID string) (string, error) {
	p.mu.Lock()
	if id, ok := p.boardItems[issueID]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	var out struct {
		Node struct {
			ProjectItems struct {
				Nodes []struct {
					ID      string `json:"id"`
					Project struct {
						ID string `json:"id"`
					} `json:"project"`
				} `json:"nodes"`
			} `json:"projectItems"`
		} `json:"node"`
	}
	err := p.client.do(ctx, `
		query($id: ID!) {
			node(id: $id) {
				... on Issue {
					projectItems(first: 20) {
						nodes { id project { id } }
					}
				}
			}
		}`,
		map[string]interface{}{"id": issueID}, &out)
	if err != nil {
		return "", err
	}

	for _, node := range out.Node.ProjectItems.Nodes {
		if node.Project.ID == p.projectID {
			p.rememberBoardItem(issueID, node.ID)
			return node.ID, nil
		}
	}
	return "", engine.NewProviderError(engine.ErrorClassPermanent,
		"issue is not on the configured board", nil).WithResource(issueID)
}

func (p *Provider) rememberBoardItem(issueID, itemID string) {
	p.mu.Lock()
	p.boardItems[issueID] = itemID
	p.mu.Unlock()
}

// setBoardField writes one field value on a board item, resolving select
// options and iterations by name.
func (p *Provider) setBoardField(ctx context.Context, itemID, fieldName, value string) error {
	field, ok := p.fields[strings.ToLower(fieldName)]
	if !ok {
		return engine.NewConfigError(fmt.Sprintf("board has no field %q", fieldName), nil)
	}

	var fieldValue map[string]interface{}
	switch field.dataType {
	case "SINGLE_SELECT":
		optionID, ok := field.options[strings.ToLower(value)]
		if !ok {
			return engine.NewConfigError(
				fmt.Sprintf("field %q has no option %q", fieldName, value), nil)
		}
		fieldValue = map[string]interface{}{"singleSelectOptionId": optionID}
	case "ITERATION":
		iterationID, ok := field.iterations[strings.ToLower(value)]
		if !ok {
			return engine.NewConfigError(
				fmt.Sprintf("field %q has no iteration %q", fieldName, value), nil)
		}
		fieldValue = map[string]interface{}{"iterationId": iterationID}
	case "NUMBER":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return engine.NewConfigError(
				fmt.Sprintf("field %q wants a number, got %q", fieldName, value), err)
		}
		fieldValue = map[string]interface{}{"number": n}
	default:
		fieldValue = map[string]interface{}{"text": value}
	}

	return p.client.do(ctx, `
		mutation($input: UpdateProjectV2ItemFieldValueInput!) {
			updateProjectV2ItemFieldValue(input: $input) { projectV2Item { id } }
		}`,
		map[string]interface{}{"input": map[string]interface{}{
			"projectId": p.projectID,
			"itemId":    itemID,
			"fieldId":   field.id,
			"value":     fieldValue,
		}}, nil)
}
