// Package catalog resolves which models the relay can serve from the
// process environment.
//
// Models come either from the unified MODELS variable, a JSON array whose
// records name their provider, or from one legacy variable per provider
// whose records inherit the provider of the variable they came from. Only
// models whose provider holds a credential survive; the result always has
// unique ids and exactly one default.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"chatrelay/internal/models"
)

// UnifiedEnv holds the preferred JSON model list.
const UnifiedEnv = "MODELS"

const (
	maxNameLength        = 50
	maxDescriptionLength = 200
)

// ErrUnknownModel is returned by Resolve for ids outside the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Catalog is the resolved, read-only model set.
type Catalog struct {
	models    []models.ModelDescriptor
	byID      map[string]int
	defaultID string
	enabled   []models.ProviderDescriptor
}

type record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
	Default     bool   `json:"default"`
}

// Load builds the catalog for providers from lookup.
func Load(providers []models.ProviderDescriptor, lookup models.LookupFunc) (*Catalog, error) {
	if lookup == nil {
		lookup = models.EnvLookup
	}

	known := make(map[string]models.ProviderDescriptor, len(providers))
	var enabled []models.ProviderDescriptor
	for _, p := range providers {
		known[p.ID] = p
		if p.IsEnabled(lookup) {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return nil, configError(ReasonNoProviders, "", "No AI providers configured",
			"Set at least one of "+credentialList(providers)+".", nil)
	}

	var (
		parsed []models.ModelDescriptor
		err    error
	)
	if raw := models.Credential(lookup, UnifiedEnv); raw != "" {
		parsed, err = parseUnified(raw, known)
	} else {
		parsed, err = parseLegacy(providers, lookup)
	}
	if err != nil {
		return nil, err
	}

	return build(parsed, enabled)
}

func parseUnified(raw string, known map[string]models.ProviderDescriptor) ([]models.ModelDescriptor, error) {
	records, err := decodeRecords(UnifiedEnv, raw)
	if err != nil {
		return nil, err
	}

	out := make([]models.ModelDescriptor, 0, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.Provider) == "" {
			return nil, configError(ReasonMissingProvider, UnifiedEnv,
				fmt.Sprintf("model %d (%q) has no provider", i, r.ID),
				`Every entry in MODELS needs a "provider" field, for example "openai" or "anthropic".`, nil)
		}
		if _, ok := known[r.Provider]; !ok {
			return nil, configError(ReasonUnknownProvider, UnifiedEnv,
				fmt.Sprintf("model %q names unknown provider %q", r.ID, r.Provider),
				"Use one of: "+providerList(known)+".", nil)
		}
		d, err := r.descriptor(UnifiedEnv)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// parseLegacy reads every provider's own variable, including providers that
// are disabled, so a default declared for a disabled provider can be
// detected and promoted.
func parseLegacy(providers []models.ProviderDescriptor, lookup models.LookupFunc) ([]models.ModelDescriptor, error) {
	var out []models.ModelDescriptor
	for _, p := range providers {
		raw := models.Credential(lookup, p.ModelsEnv)
		if raw == "" {
			continue
		}
		records, err := decodeRecords(p.ModelsEnv, raw)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			switch r.Provider {
			case "":
				r.Provider = p.ID
			case p.ID:
			default:
				return nil, configError(ReasonUnknownProvider, p.ModelsEnv,
					fmt.Sprintf("model %q names provider %q", r.ID, r.Provider),
					fmt.Sprintf("Models in %s belong to %s; move this entry to the matching variable or to MODELS.", p.ModelsEnv, p.ID), nil)
			}
			d, err := r.descriptor(p.ModelsEnv)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}

func decodeRecords(source, raw string) ([]record, error) {
	data := []byte(raw)
	if !json.Valid(data) {
		var probe any
		err := json.Unmarshal(data, &probe)
		return nil, configError(ReasonInvalidJSON, source, "value is not valid JSON",
			fmt.Sprintf(`Set %s to a JSON array such as [{"id":"gpt-4o","name":"GPT-4o","description":"","provider":"openai","default":true}].`, source), err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		return nil, configError(ReasonNotArray, source, "value must be a JSON array of models",
			fmt.Sprintf("Wrap the model objects in %s in [ ].", source), nil)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, configError(ReasonInvalidJSON, source, "value is not a JSON array", "", err)
	}
	records := make([]record, 0, len(elems))
	for i, elem := range elems {
		var r record
		if err := json.Unmarshal(elem, &r); err != nil {
			return nil, configError(ReasonInvalidModel, source,
				fmt.Sprintf("model %d is not a valid model object", i),
				"Each model needs string id, name, description and provider fields and a boolean default.", err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (r record) descriptor(source string) (models.ModelDescriptor, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return models.ModelDescriptor{}, configError(ReasonInvalidModel, source, "model id must not be empty", "Give every model a non-empty id.", nil)
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = id
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return models.ModelDescriptor{}, configError(ReasonInvalidModel, source,
			fmt.Sprintf("model %q name exceeds %d characters", id, maxNameLength), "Shorten the display name.", nil)
	}
	if utf8.RuneCountInString(r.Description) > maxDescriptionLength {
		return models.ModelDescriptor{}, configError(ReasonInvalidModel, source,
			fmt.Sprintf("model %q description exceeds %d characters", id, maxDescriptionLength), "Shorten the description.", nil)
	}
	return models.ModelDescriptor{
		ID:          id,
		Name:        name,
		Description: r.Description,
		Provider:    r.Provider,
		Default:     r.Default,
	}, nil
}

func build(parsed []models.ModelDescriptor, enabled []models.ProviderDescriptor) (*Catalog, error) {
	on := make(map[string]bool, len(enabled))
	for _, p := range enabled {
		on[p.ID] = true
	}

	hadDefault := false
	var kept []models.ModelDescriptor
	for _, d := range parsed {
		if d.Default {
			hadDefault = true
		}
		if on[d.Provider] {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return nil, configError(ReasonNoModels, "", "No models configured for enabled providers",
			"Add models for "+enabledList(enabled)+" to MODELS or to the provider's model variable.", nil)
	}

	c := &Catalog{
		models:  kept,
		byID:    make(map[string]int, len(kept)),
		enabled: enabled,
	}
	defaults := 0
	for i, d := range kept {
		if _, dup := c.byID[d.ID]; dup {
			return nil, configError(ReasonDuplicateID, "", fmt.Sprintf("model id %q is defined more than once", d.ID),
				"Model ids must be unique across all providers.", nil)
		}
		c.byID[d.ID] = i
		if d.Default {
			defaults++
			c.defaultID = d.ID
		}
	}

	switch {
	case defaults > 1:
		return nil, configError(ReasonMultipleDefaults, "", fmt.Sprintf("%d models are marked default", defaults),
			`Mark exactly one model with "default": true.`, nil)
	case defaults == 0 && hadDefault:
		c.models[0].Default = true
		c.defaultID = c.models[0].ID
	case defaults == 0:
		return nil, configError(ReasonNoDefault, "", "no model is marked default",
			`Mark exactly one model with "default": true.`, nil)
	}
	return c, nil
}

// Models returns the resolved models in configuration order.
func (c *Catalog) Models() []models.ModelDescriptor {
	return append([]models.ModelDescriptor(nil), c.models...)
}

// Default returns the default model.
func (c *Catalog) Default() models.ModelDescriptor {
	return c.models[c.byID[c.defaultID]]
}

// Lookup returns the model with id.
func (c *Catalog) Lookup(id string) (models.ModelDescriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.ModelDescriptor{}, false
	}
	return c.models[i], true
}

// Resolve returns the model with id, or the default when id is empty.
func (c *Catalog) Resolve(id string) (models.ModelDescriptor, error) {
	if id == "" {
		return c.Default(), nil
	}
	d, ok := c.Lookup(id)
	if !ok {
		return models.ModelDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return d, nil
}

// Providers returns the enabled providers.
func (c *Catalog) Providers() []models.ProviderDescriptor {
	return append([]models.ProviderDescriptor(nil), c.enabled...)
}

func credentialList(providers []models.ProviderDescriptor) string {
	keys := make([]string, 0, len(providers))
	for _, p := range providers {
		keys = append(keys, p.APIKeyEnv)
	}
	if len(keys) == 0 {
		return "the provider credential variables"
	}
	return strings.Join(keys, ", ")
}

func enabledList(enabled []models.ProviderDescriptor) string {
	ids := make([]string, 0, len(enabled))
	for _, p := range enabled {
		ids = append(ids, p.ID)
	}
	return strings.Join(ids, ", ")
}

func providerList(known map[string]models.ProviderDescriptor) string {
	ids := make([]string, 0, len(known))
	for id := range known {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return strings.Join(ids, ", ")
}
