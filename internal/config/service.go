package config

import "fmt"

// ServiceType selects which slice of the gateway a process runs. The
// empty value runs everything in one process.
type ServiceType string

const (
	ServiceTypeSingular ServiceType = ""
	ServiceTypeAPI      ServiceType = "api"
	ServiceTypeIngest   ServiceType = "ingest"
	ServiceTypeDelivery ServiceType = "delivery"
)

func ServiceTypeFromString(s string) (ServiceType, error) {
	switch ServiceType(s) {
	case ServiceTypeSingular, ServiceTypeAPI, ServiceTypeIngest, ServiceTypeDelivery:
		return ServiceType(s), nil
	}
	return ServiceType(s), fmt.Errorf("unknown service: %s", s)
}
