package generator

import "github.com/appfacterp/log-shipper/pkg/model"

type Generator interface {
	Generate() model.LogEvent
}
