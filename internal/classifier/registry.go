package classifier

import (
	"fmt"
	"sort"

	"Go2NetGuard/internal/model"

	log "github.com/sirupsen/logrus"
)

// Factory loads a classifier of one model family from path. Families that
// need no file receive an empty path.
type Factory func(path string) (model.Classifier, error)

// registry holds the mapping of model types to their factory functions.
var registry = make(map[string]Factory)

// Register registers a model family under modelType.
func Register(modelType string, factory Factory) {
	if _, exists := registry[modelType]; exists {
		panic(fmt.Sprintf("model type '%s' already registered", modelType))
	}
	registry[modelType] = factory
}

// Types returns the registered model types in sorted order.
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Load creates the classifier for modelType from the model file at path.
func Load(modelType, path string) (model.Classifier, error) {
	factory, ok := registry[modelType]
	if !ok {
		return nil, fmt.Errorf("unknown model type: '%s'", modelType)
	}
	clf, err := factory(path)
	if err != nil {
		return nil, fmt.Errorf("error loading model type '%s': %w", modelType, err)
	}
	log.Printf("Loaded %s classifier with %d input features", modelType, clf.Dimension())
	return clf, nil
}
