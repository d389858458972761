package backends

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/cardiffd/cardiffd"
	"github.com/cardiffd/cardiffd/pkg/backends/amqppub"
	"github.com/cardiffd/cardiffd/pkg/backends/graphite"
	"github.com/cardiffd/cardiffd/pkg/backends/logger"
	"github.com/cardiffd/cardiffd/pkg/backends/statsdaemon"
	"github.com/cardiffd/cardiffd/pkg/backends/upstream"
)

// All known backends.
var backends = map[string]cardiffd.BackendFactory{
	amqppub.BackendName:     amqppub.NewClientFromViper,
	graphite.BackendName:    graphite.NewClientFromViper,
	logger.BackendName:      logger.NewClientFromViper,
	statsdaemon.BackendName: statsdaemon.NewClientFromViper,
	upstream.BackendName:    upstream.NewClientFromViper,
}

// GetBackend creates an instance of the named backend, or nil if
// the name is not known. The error return is only used if the named backend
// was known but failed to initialize.
func GetBackend(name string, v *viper.Viper, l logrus.FieldLogger) (cardiffd.Backend, error) {
	f, found := backends[name]
	if !found {
		return nil, nil
	}
	return f(v, l.WithField("backend", name))
}

// InitBackend creates an instance of the named backend.
func InitBackend(name string, v *viper.Viper, l logrus.FieldLogger) (cardiffd.Backend, error) {
	if name == "" {
		return nil, fmt.Errorf("backend name is required")
	}

	backend, err := GetBackend(name, v, l)
	if err != nil {
		return nil, fmt.Errorf("could not init backend %q: %v", name, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	l.WithField("backend", name).Info("initialised backend")

	return backend, nil
}
