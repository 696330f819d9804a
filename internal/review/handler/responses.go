package handler

import "folio/internal/profile/models"

type versionResponse struct {
	Version *models.Version `json:"version"`
}

type staffEditResponse struct {
	Pending  *models.Version `json:"pending"`
	Promoted bool            `json:"promoted"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Comments string `json:"comments"`
}

type decisionResponse struct {
	Pending  *models.Version `json:"pending"`
	Promoted bool            `json:"promoted"`
}

type versionSetResponse struct {
	Draft   *models.Version `json:"draft"`
	Pending *models.Version `json:"pending"`
	Profile *models.Profile `json:"profile"`
}
