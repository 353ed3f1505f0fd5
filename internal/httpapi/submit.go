/*
Copyright 2026 The tac-webbuilder Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// submitPhase is the wire shape of one entry in a /submit request's
// phases array (§6.1).
type submitPhase struct {
	PhaseNumber int    `json:"phase_number" validate:"required,min=1"`
	Title       string `json:"title" validate:"required"`
	Prompt      string `json:"prompt" validate:"required"`
	DependsOn   []int  `json:"depends_on"`
}

// submitRequest is the §6.1 POST /submit body. Unknown fields are
// rejected by handleSubmit's json.Decoder.DisallowUnknownFields (§9: "submission payloads are validated
// against a schema; unknown fields are rejected").
type submitRequest struct {
	Title       string        `json:"title" validate:"required"`
	Description string        `json:"description"`
	Priority    int           `json:"priority" validate:"omitempty,min=10,max=90"`
	Phases      []submitPhase `json:"phases" validate:"required,min=1,dive"`
}

// submitResponse is the §6.1 response body.
type submitResponse struct {
	FeatureID int64    `json:"feature_id"`
	PhaseIDs  []string `json:"phase_ids"`
}

// FeatureCreator is the subset of FeatureStore the submit handler needs.
type FeatureCreator interface {
	CreateFeature(ctx context.Context, title, description string, totalPhases int) (int64, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// handleSubmit implements POST /submit (§6.1): validates the DAG (no
// cycles, no dangling depends_on reference), assigns queue_position
// monotonically via InsertPhases, and inserts every phase for the new
// feature in one transaction. Nothing is persisted on a validation
// failure.
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.writeError(w, apperr.New(apperr.InvalidSubmission, "malformed submit payload"))
		return
	}
	if err := validate.Struct(req); err != nil {
		a.writeError(w, apperr.New(apperr.InvalidSubmission, err.Error()))
		return
	}

	inputs := make([]model.NewPhaseInput, len(req.Phases))
	dagPhases := make([]model.NewPhaseInput, len(req.Phases))
	priority := req.Priority
	if priority == 0 {
		priority = model.DefaultPriority
	}
	for i, p := range req.Phases {
		inputs[i] = model.NewPhaseInput{
			PhaseNumber: p.PhaseNumber,
			Title:       p.Title,
			Prompt:      p.Prompt,
			DependsOn:   p.DependsOn,
			Priority:    priority,
		}
		dagPhases[i] = inputs[i]
	}
	if err := model.ValidateDAG(dagPhases); err != nil {
		a.writeError(w, apperr.New(apperr.InvalidSubmission, err.Error()))
		return
	}

	ctx := r.Context()
	featureID, err := a.features.CreateFeature(ctx, req.Title, req.Description, len(req.Phases))
	if err != nil {
		a.writeError(w, err)
		return
	}

	phaseIDs, err := a.phases.InsertPhases(ctx, featureID, inputs)
	if err != nil {
		a.log.Error("submit: failed to insert phases", zap.Int64("feature_id", featureID), zap.Error(err))
		a.writeError(w, err)
		return
	}

	a.admission.Consider(ctx)
	a.writeJSON(w, http.StatusOK, submitResponse{FeatureID: featureID, PhaseIDs: phaseIDs})
}
