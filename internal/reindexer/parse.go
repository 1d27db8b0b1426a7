package reindexer

import (
	"fmt"
	"sort"
	"time"

	"github.com/syntrixbase/reindexer/internal/reindexer/config"
)

// ConfigurationError reports configuration the maintainer cannot start with.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid reindexing configuration: %s: %s", e.Field, e.Reason)
}

// Registry resolves document type names.
type Registry interface {
	DocumentType(name string) (DocumentType, bool)
}

// StaticRegistry is a fixed set of document types.
type StaticRegistry map[string]DocumentType

// NewStaticRegistry registers the given type names.
func NewStaticRegistry(names ...string) StaticRegistry {
	r := make(StaticRegistry, len(names))
	for _, name := range names {
		r[name] = DocumentType{Name: name}
	}
	return r
}

// RegistryFromConfig registers every configured document type.
func RegistryFromConfig(types map[string]config.DocumentTypeConfig) StaticRegistry {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	return NewStaticRegistry(names...)
}

// DocumentType implements Registry.
func (r StaticRegistry) DocumentType(name string) (DocumentType, bool) {
	t, ok := r[name]
	return t, ok
}

// ParseCluster resolves the named cluster and its document types.
func ParseCluster(name string, clusters map[string]config.ClusterConfig, registry Registry) (Cluster, error) {
	cc, ok := clusters[name]
	if !ok {
		return Cluster{}, &ConfigurationError{
			Field:  "cluster_name",
			Reason: fmt.Sprintf("this cluster (%s) not among the list of clusters", name),
		}
	}

	cluster := Cluster{
		Name:         name,
		ConfigID:     cc.ConfigID,
		BucketSpaces: make(map[DocumentType]string, len(cc.DocumentTypes)),
	}
	for _, typeName := range sortedKeys(cc.DocumentTypes) {
		typ, ok := registry.DocumentType(typeName)
		if !ok {
			return Cluster{}, &ConfigurationError{
				Field:  "clusters." + name + ".document_types",
				Reason: fmt.Sprintf("unknown document type %q", typeName),
			}
		}
		cluster.BucketSpaces[typ] = cc.DocumentTypes[typeName]
	}
	return cluster, nil
}

// ParseReady resolves the ready instants of types in cluster.
func ParseReady(ready map[string]int64, registry Registry, cluster Cluster) (ReadyMap, error) {
	out := make(ReadyMap, len(ready))
	for _, typeName := range sortedKeys(ready) {
		typ, ok := registry.DocumentType(typeName)
		if !ok {
			return nil, &ConfigurationError{
				Field:  "ready",
				Reason: fmt.Sprintf("unknown document type %q", typeName),
			}
		}
		if _, ok := cluster.BucketSpaceOf(typ); !ok {
			return nil, &ConfigurationError{
				Field:  "ready",
				Reason: fmt.Sprintf("document type %q is not in cluster %s", typeName, cluster.Name),
			}
		}
		out[typ] = time.UnixMilli(ready[typeName]).UTC()
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
