package location

import "github.com/nerrad567/gray-logic-grow/internal/apperr"

// Domain errors for the location package.
var (
	ErrGreenhouseNotFound = apperr.New(apperr.KindNotFound, "greenhouse_not_found", "greenhouse not found")
	ErrZoneNotFound       = apperr.New(apperr.KindNotFound, "zone_not_found", "zone not found")
	ErrNodeNotFound       = apperr.New(apperr.KindNotFound, "node_not_found", "node not found")
	ErrPlantNotFound      = apperr.New(apperr.KindNotFound, "plant_not_found", "plant not found")

	ErrNodeExists = apperr.New(apperr.KindConflict, "node_exists", "a node with this uid already exists")

	ErrInvalidName  = apperr.New(apperr.KindValidation, "invalid_name", "invalid name")
	ErrInvalidOwner = apperr.New(apperr.KindValidation, "invalid_owner", "invalid node owner")
	ErrInvalidNode  = apperr.New(apperr.KindValidation, "invalid_node", "invalid node")
)
