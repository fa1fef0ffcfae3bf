// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire types of the QualityControl HTTP API.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
)

// MaxNameLength bounds node names accepted over the API.
const MaxNameLength = 256

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = requestValidate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// FactorRequest is the body of POST /api/graph/factor. Absent attributes
// leave stored values untouched.
type FactorRequest struct {
	Name        string  `json:"name" validate:"required,notblank,max=256"`
	Standard    *string `json:"standard,omitempty" validate:"omitempty,max=4096"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=4096"`
}

// Validate checks the request's struct tags.
func (r *FactorRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Input converts the request for graph.Store.UpsertFactor.
func (r *FactorRequest) Input() graph.FactorInput {
	return graph.FactorInput{
		Name:        strings.TrimSpace(r.Name),
		Standard:    r.Standard,
		Description: r.Description,
	}
}

// DefectRequest is the body of POST /api/graph/defect.
type DefectRequest struct {
	Name                  string  `json:"name" validate:"required,notblank,max=256"`
	TypicalManifestations *string `json:"typicalManifestations,omitempty" validate:"omitempty,max=4096"`
}

func (r *DefectRequest) Validate() error {
	return requestValidate.Struct(r)
}

func (r *DefectRequest) Input() graph.DefectInput {
	return graph.DefectInput{
		Name:                  strings.TrimSpace(r.Name),
		TypicalManifestations: r.TypicalManifestations,
	}
}

// RelationshipRequest names the endpoints of one causal edge. The field
// names follow the original admin tooling.
type RelationshipRequest struct {
	StartNodeName string `json:"startNodeName" validate:"required,notblank,max=256"`
	EndNodeName   string `json:"endNodeName" validate:"required,notblank,max=256"`
}

func (r *RelationshipRequest) Validate() error {
	return requestValidate.Struct(r)
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned for every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NarrationResponse is returned by the synchronous narrate endpoint.
type NarrationResponse struct {
	Defect  string `json:"defect"`
	Outcome string `json:"outcome"`
	Text    string `json:"text"`
	Paths   int    `json:"paths"`
}

// PathsResponse is returned by GET /api/graph/causal-paths.
type PathsResponse struct {
	Defect    string           `json:"defect"`
	Paths     [][]graph.Factor `json:"paths"`
	Cycles    int              `json:"cycles"`
	Truncated bool             `json:"truncated,omitempty"`
}

// InitDatabaseResponse reports a seed reload.
type InitDatabaseResponse struct {
	Message string `json:"message"`
	Source  string `json:"source"`
	Records int    `json:"records"`
	Factors int    `json:"factors"`
	Defects int    `json:"defects"`
	Edges   int    `json:"edges"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Nodes  int    `json:"nodes"`
	Edges  int    `json:"edges"`
}
