package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
)

// issueNode is the Issue projection shared by queries.
type issueNode struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

func (p *Provider) toItem(node issueNode, itemType engine.ItemType) *engine.Item {
	item := &engine.Item{
		ID:       node.ID,
		Key:      fmt.Sprintf("#%d", node.Number),
		URL:      node.URL,
		Title:    node.Title,
		Body:     node.Body,
		ItemType: itemType,
	}
	item.BindProvider(p)
	return item
}

// SearchItems queries the issue search API and paginates to exhaustion, so
// callers always see the complete result set.
func (p *Provider) SearchItems(ctx context.Context, filters engine.ItemSearchFilters) ([]*engine.Item, error) {
	query := p.searchQuery(filters)

	var items []*engine.Item
	var after interface{}
	for {
		var out struct {
			Search struct {
				PageInfo pageInfo    `json:"pageInfo"`
				Nodes    []issueNode `json:"nodes"`
			} `json:"search"`
		}
		err := p.client.do(ctx, `
			query($q: String!, $after: String) {
				search(type: ISSUE, query: $q, first: 100, after: $after) {
					pageInfo { hasNextPage endCursor }
					nodes { ... on Issue { id number url title body } }
				}
			}`,
			map[string]interface{}{"q": query, "after": after}, &out)
		if err != nil {
			return nil, err
		}

		for _, node := range out.Search.Nodes {
			if node.ID == "" {
				continue
			}
			items = append(items, p.toItem(node, ""))
		}
		if !out.Search.PageInfo.HasNextPage {
			return items, nil
		}
		after = out.Search.PageInfo.EndCursor
	}
}

// searchQuery builds the issue search expression for the given filters.
func (p *Provider) searchQuery(filters engine.ItemSearchFilters) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "repo:%s/%s is:issue", p.owner, p.repo)
	for _, label := range filters.Labels {
		fmt.Fprintf(&sb, " label:%q", label)
	}
	if filters.BodyContains != "" {
		escaped := strings.ReplaceAll(filters.BodyContains, `"`, `\"`)
		fmt.Fprintf(&sb, ` in:body "%s"`, escaped)
	}
	return sb.String()
}

// CreateItem creates the issue, adds it to the board, and sets the initial
// workflow field values. A failure after the issue exists surfaces as a
// partial-create error carrying the assigned identity and the completed
// steps, so the next run discovers and completes the item instead of
// duplicating it.
func (p *Provider) CreateItem(ctx context.Context, input engine.CreateItemInput) (*engine.Item, error) {
	labelIDs := []string{p.labelID}
	if id, ok := p.typeLabelIDs[input.ItemType]; ok {
		labelIDs = append(labelIDs, id)
	}

	createInput := map[string]interface{}{
		"repositoryId": p.repoID,
		"title":        input.Title,
		"body":         input.Body,
		"labelIds":     labelIDs,
	}
	if id, ok := p.issueTypeIDs[input.ItemType]; ok {
		createInput["issueTypeId"] = id
	}

	var created struct {
		CreateIssue struct {
			Issue issueNode `json:"issue"`
		} `json:"createIssue"`
	}
	err := p.client.do(ctx, `
		mutation($input: CreateIssueInput!) {
			createIssue(input: $input) { issue { id number url title body } }
		}`,
		map[string]interface{}{"input": createInput}, &created)
	if err != nil {
		return nil, err
	}
	issue := created.CreateIssue.Issue
	completed := []string{stepCreateIssue}

	partial := func(step string, err error) error {
		return engine.NewPartialCreateError(
			fmt.Sprintf("create of %q failed during %s", input.Title, step),
			engine.PartialCreateInfo{
				CreatedItemID:  issue.ID,
				CreatedItemKey: fmt.Sprintf("#%d", issue.Number),
				CreatedItemURL: issue.URL,
				CompletedSteps: completed,
				Retryable:      engine.IsRetryable(err),
			}, err)
	}

	if p.projectID != "" {
		itemID, err := p.addToBoard(ctx, issue.ID)
		if err != nil {
			return nil, partial(stepAddToBoard, err)
		}
		completed = append(completed, stepAddToBoard)

		if err := p.setInitialFields(ctx, itemID, input.Size); err != nil {
			return nil, partial(stepSetFields, err)
		}
		completed = append(completed, stepSetFields)
	}

	p.logger.Debug().
		Str("key", fmt.Sprintf("#%d", issue.Number)).
		Str("type", string(input.ItemType)).
		Msg("issue created")
	return p.toItem(issue, input.ItemType), nil
}

func (p *Provider) addToBoard(ctx context.Context, issueID string) (string, error) {
	var out struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"addProjectV2ItemById"`
	}
	err := p.client.do(ctx, `
		mutation($input: AddProjectV2ItemByIdInput!) {
			addProjectV2ItemById(input: $input) { item { id } }
		}`,
		map[string]interface{}{"input": map[string]interface{}{
			"projectId": p.projectID,
			"contentId": issueID,
		}}, &out)
	if err != nil {
		return "", err
	}
	p.rememberBoardItem(issueID, out.AddProjectV2ItemByID.Item.ID)
	return out.AddProjectV2ItemByID.Item.ID, nil
}

// setInitialFields writes the configured workflow fields once, at creation.
// These fields belong to the humans working the board afterwards; updates
// never touch them again.
func (p *Provider) setInitialFields(ctx context.Context, itemID, size string) error {
	fc := p.cfg.FieldConfig
	initial := []struct{ field, value string }{
		{"Status", fc.Status},
		{"Priority", fc.Priority},
		{"Iteration", fc.Iteration},
	}
	for _, f := range initial {
		if f.value == "" {
			continue
		}
		if err := p.setBoardField(ctx, itemID, f.field, f.value); err != nil {
			return err
		}
	}
	return p.setSizeField(ctx, itemID, size)
}

func (p *Provider) setSizeField(ctx context.Context, itemID, size string) error {
	fc := p.cfg.FieldConfig
	if !fc.SizeFromTShirt || fc.SizeField == "" || size == "" {
		return nil
	}
	return p.setBoardField(ctx, itemID, fc.SizeField, size)
}

// UpdateItem applies the non-nil fields. Labels are additive: the mutation
// only ever adds, so labels humans attached stay put.
func (p *Provider) UpdateItem(ctx context.Context, id string, input engine.UpdateItemInput) (*engine.Item, error) {
	updateInput := map[string]interface{}{"id": id}
	if input.Title != nil {
		updateInput["title"] = *input.Title
	}
	if input.Body != nil {
		updateInput["body"] = *input.Body
	}
	if input.ItemType != nil && p.cfg.FieldConfig.CreateTypeStrategy == config.CreateTypeIssueType {
		if typeID, ok := p.issueTypeIDs[*input.ItemType]; ok {
			updateInput["issueTypeId"] = typeID
		}
	}

	var updated struct {
		UpdateIssue struct {
			Issue issueNode `json:"issue"`
		} `json:"updateIssue"`
	}
	err := p.client.do(ctx, `
		mutation($input: UpdateIssueInput!) {
			updateIssue(input: $input) { issue { id number url title body } }
		}`,
		map[string]interface{}{"input": updateInput}, &updated)
	if err != nil {
		return nil, err
	}

	if len(input.Labels) > 0 {
		if err := p.addLabels(ctx, id, input.Labels, input.ItemType); err != nil {
			return nil, err
		}
	}

	if input.Size != nil && p.projectID != "" {
		itemID, err := p.boardItemID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := p.setSizeField(ctx, itemID, *input.Size); err != nil {
			return nil, err
		}
	}

	itemType := engine.ItemType("")
	if input.ItemType != nil {
		itemType = *input.ItemType
	}
	return p.toItem(updated.UpdateIssue.Issue, itemType), nil
}

// addLabels unions the given labels (plus the type label, when that strategy
// is active) onto the issue.
func (p *Provider) addLabels(ctx context.Context, issueID string, labels []string, itemType *engine.ItemType) error {
	ids := make([]string, 0, len(labels)+1)
	for _, label := range labels {
		id, err := p.ensureLabel(ctx, label)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if itemType != nil {
		if id, ok := p.typeLabelIDs[*itemType]; ok {
			ids = append(ids, id)
		}
	}
	return p.client.do(ctx, `
		mutation($input: AddLabelsToLabelableInput!) {
			addLabelsToLabelable(input: $input) { clientMutationId }
		}`,
		map[string]interface{}{"input": map[string]interface{}{
			"labelableId": issueID,
			"labelIds":    ids,
		}}, nil)
}

// GetItem fetches one issue by node ID.
func (p *Provider) GetItem(ctx context.Context, id string) (*engine.Item, error) {
	var out struct {
		Node issueNode `json:"node"`
	}
	err := p.client.do(ctx, `
		query($id: ID!) {
			node(id: $id) { ... on Issue { id number url title body } }
		}`,
		map[string]interface{}{"id": id}, &out)
	if err != nil {
		return nil, err
	}
	if out.Node.ID == "" {
		return nil, engine.NewProviderError(engine.ErrorClassPermanent, "issue not found", nil).
			WithResource(id)
	}
	return p.toItem(out.Node, ""), nil
}

// DeleteItem deletes one issue.
func (p *Provider) DeleteItem(ctx context.Context, id string) error {
	return p.client.do(ctx, `
		mutation($input: DeleteIssueInput!) {
			deleteIssue(input: $input) { clientMutationId }
		}`,
		map[string]interface{}{"input": map[string]interface{}{"issueId": id}}, nil)
}

// SetParent makes parent the hierarchical parent via the sub-issue API.
func (p *Provider) SetParent(ctx context.Context, item, parent *engine.Item) error {
	if parent == nil {
		return p.removeCurrentParent(ctx, item)
	}
	return p.client.do(ctx, `
		mutation($input: AddSubIssueInput!) {
			addSubIssue(input: $input) { clientMutationId }
		}`,
		map[string]interface{}{"input": map[string]interface{}{
			"issueId":       parent.ID,
			"subIssueId":    item.ID,
			"replaceParent": true,
		}}, nil)
}

func (p *Provider) removeCurrentParent(ctx context.Context, item *engine.Item) error {
	relations, err := p.currentRelations(ctx, item.ID)
	if err != nil {
		return err
	}
	if relations.parentID == "" {
		return nil
	}
	return p.client.do(ctx, `
		mutation($input: RemoveSubIssueInput!) {
			removeSubIssue(input: $input) { clientMutationId }
		}`,
		map[string]interface{}{"input": map[string]interface{}{
			"issueId":    relations.parentID,
			"subIssueId": item.ID,
		}}, nil)
}

// AddDependency marks item as blocked by blocker.
func (p *Provider) AddDependency(ctx context.Context, item, blocker *engine.Item) error {
	return p.addDependencyByID(ctx, item.ID, blocker.ID)
}

func (p *Provider) addDependencyByID(ctx context.Context, issueID, blockerID string) error {
	return p.client.do(ctx, `
		mutation($input: AddIssueDependencyInput!) {
			addIssueDependency(input: $input) { clientMutationId }
		}`,
		map[string]interface{}{"input": map[string]interface{}{
			"issueId":          issueID,
			"blockedByIssueId": blockerID,
		}}, nil)
}

func (p *Provider) removeDependencyByID(ctx context.Context, issueID, blockerID string) error {
	return p.client.do(ctx, `
		mutation($input: RemoveIssueDependencyInput!) {
			removeIssueDependency(input: $input) { clientMutationId }
		}`,
		map[string]interface{}{"input": map[string]interface{}{
			"issueId":          issueID,
			"blockedByIssueId": blockerID,
		}}, nil)
}

// currentRelations reads an issue's remote parent and blocked-by set.
type remoteRelations struct {
	parentID string
	blockers map[string]bool
}

func (p *Provider) currentRelations(ctx context.Context, issueID string) (*remoteRelations, error) {
	relations := &remoteRelations{blockers: make(map[string]bool)}

	var after interface{}
	for {
		var out struct {
			Node struct {
				Parent *struct {
					ID string `json:"id"`
				} `json:"parent"`
				BlockedBy struct {
					PageInfo pageInfo `json:"pageInfo"`
					Nodes    []struct {
						ID string `json:"id"`
					} `json:"nodes"`
				} `json:"blockedBy"`
			} `json:"node"`
		}
		err := p.client.do(ctx, `
			query($id: ID!, $after: String) {
				node(id: $id) {
					... on Issue {
						parent { id }
						blockedBy(first: 50, after: $after) {
							pageInfo { hasNextPage endCursor }
							nodes { id }
						}
					}
				}
			}`,
			map[string]interface{}{"id": issueID, "after": after}, &out)
		if err != nil {
			return nil, err
		}
		if out.Node.Parent != nil {
			relations.parentID = out.Node.Parent.ID
		}
		for _, node := range out.Node.BlockedBy.Nodes {
			relations.blockers[node.ID] = true
		}
		if !out.Node.BlockedBy.PageInfo.HasNextPage {
			return relations, nil
		}
		after = out.Node.BlockedBy.PageInfo.EndCursor
	}
}

// ReconcileRelations converges the remote parent and blocker set to exactly
// the given arguments, issuing only the add/remove calls needed. A second
// call with the same arguments is a no-op.
func (p *Provider) ReconcileRelations(ctx context.Context, item, parent *engine.Item, blockers []*engine.Item) error {
	current, err := p.currentRelations(ctx, item.ID)
	if err != nil {
		return err
	}

	desiredParent := ""
	if parent != nil {
		desiredParent = parent.ID
	}
	switch {
	case desiredParent == current.parentID:
		// converged
	case desiredParent == "":
		if err := p.removeCurrentParent(ctx, item); err != nil {
			return err
		}
	default:
		if err := p.SetParent(ctx, item, parent); err != nil {
			return err
		}
	}

	desired := make(map[string]bool, len(blockers))
	for _, blocker := range blockers {
		desired[blocker.ID] = true
		if !current.blockers[blocker.ID] {
			if err := p.addDependencyByID(ctx, item.ID, blocker.ID); err != nil {
				return err
			}
		}
	}
	for blockerID := range current.blockers {
		if !desired[blockerID] {
			if err := p.removeDependencyByID(ctx, item.ID, blockerID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compile-time interface check.
var _ engine.Provider = (*Provider)(nil)
