package siem

import (
	"fmt"
	"os"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
)

// NewFromConfig builds an integration with every enabled connector. The
// NATS connector is skipped when publisher is nil.
func NewFromConfig(cfg config.SIEMConfig, publisher messaging.Publisher, logger *logging.Logger) (*Integration, error) {
	host := cfg.Hostname
	if host == "" {
		host, _ = os.Hostname()
	}

	integ := NewIntegration(Settings{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		QueueSize:     cfg.QueueSize,
		SendTimeout:   cfg.SendTimeout,
		Hostname:      host,
		SourceIP:      cfg.SourceIP,
	}, logger)

	var connectors []Connector
	if cfg.Syslog.Enabled {
		c, err := NewSyslogConnector(cfg.Syslog.Network, cfg.Syslog.Address, cfg.Syslog.Facility)
		if err != nil {
			return nil, fmt.Errorf("syslog connector: %w", err)
		}
		connectors = append(connectors, c)
	}
	if cfg.Splunk.Enabled {
		c, err := NewHECConnector(HECConfig{
			URL:           cfg.Splunk.URL,
			Token:         cfg.Splunk.Token,
			Index:         cfg.Splunk.Index,
			Source:        cfg.Splunk.Source,
			SourceType:    cfg.Splunk.SourceType,
			TLSSkipVerify: cfg.Splunk.TLSSkipVerify,
			Timeout:       cfg.SendTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("splunk connector: %w", err)
		}
		connectors = append(connectors, c)
	}
	if cfg.Elasticsearch.Enabled {
		c, err := NewElasticsearchConnector(ElasticsearchConfig{
			URL:           cfg.Elasticsearch.URL,
			Username:      cfg.Elasticsearch.Username,
			Password:      cfg.Elasticsearch.Password,
			Index:         cfg.Elasticsearch.Index,
			TLSSkipVerify: cfg.Elasticsearch.TLSSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("elasticsearch connector: %w", err)
		}
		connectors = append(connectors, c)
	}
	if cfg.CEF.Enabled {
		c, err := NewCEFConnector(CEFConfig{
			Network:  cfg.CEF.Network,
			Address:  cfg.CEF.Address,
			Facility: cfg.CEF.Facility,
			Vendor:   cfg.CEF.Vendor,
			Product:  cfg.CEF.Product,
			Version:  cfg.CEF.Version,
		})
		if err != nil {
			return nil, fmt.Errorf("cef connector: %w", err)
		}
		connectors = append(connectors, c)
	}
	if cfg.NATS.Enabled && publisher != nil {
		connectors = append(connectors, NewNATSConnector(publisher, cfg.NATS.Subject, cfg.NATS.PerType))
	}

	for _, c := range connectors {
		if err := integ.AddConnector(c); err != nil {
			return nil, err
		}
	}
	return integ, nil
}
