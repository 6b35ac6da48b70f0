// Package sqlstorage mirrors the catalog tables into MySQL. The CSV store
// stays authoritative; the mirror is best effort.
package sqlstorage

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/dreamerjackson/devcat/spider"
	"github.com/dreamerjackson/devcat/sqldb"
	"go.uber.org/zap"
)

var directoryTable = sqldb.TableData{
	TableName: "brands_devices",
	ColumnNames: []sqldb.Field{
		{Title: "device_url", Type: "VARCHAR(255) NOT NULL"},
		{Title: "brand_name", Type: "VARCHAR(255)"},
		{Title: "device_name", Type: "VARCHAR(255)"},
		{Title: "device_image_url", Type: "TEXT"},
	},
	PrimaryKey: "device_url",
	Upsert:     true,
}

var specificationTable = sqldb.TableData{
	TableName: "device_specifications",
	ColumnNames: []sqldb.Field{
		{Title: "device_url", Type: "VARCHAR(255) NOT NULL"},
		{Title: "display_name", Type: "VARCHAR(255)"},
		{Title: "pictures", Type: "MEDIUMTEXT"},
		{Title: "specifications", Type: "MEDIUMTEXT"},
		{Title: "detailed_specs", Type: "MEDIUMTEXT"},
		{Title: "highlights", Type: "TEXT"},
		{Title: "price_text", Type: "VARCHAR(255)"},
		{Title: "price_url", Type: "TEXT"},
	},
	PrimaryKey: "device_url",
	Upsert:     true,
}

type row struct {
	brand string
	stub  spider.DeviceStub
	spec  spider.DeviceSpecification
}

type SQLStorage struct {
	mu         sync.Mutex
	dataDocker []row // buffered until BatchCount
	db         sqldb.DBer
	created    bool
	options
}

func New(opts ...Option) (*SQLStorage, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	s := &SQLStorage{}
	s.options = options

	var err error
	s.db, err = sqldb.New(
		sqldb.WithConnURL(s.sqlURL),
		sqldb.WithLogger(s.logger),
	)

	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *SQLStorage) createTables() error {
	if s.created {
		return nil
	}
	for _, t := range []sqldb.TableData{directoryTable, specificationTable} {
		if err := s.db.CreateTable(t); err != nil {
			return fmt.Errorf("create table %s: %w", t.TableName, err)
		}
	}
	s.created = true
	return nil
}

// SaveDevice buffers one device and flushes when the batch is full.
func (s *SQLStorage) SaveDevice(brand string, stub spider.DeviceStub, spec spider.DeviceSpecification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dataDocker = append(s.dataDocker, row{brand: brand, stub: stub, spec: spec})
	if len(s.dataDocker) >= s.BatchCount {
		return s.flush()
	}
	return nil
}

func (s *SQLStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *SQLStorage) flush() error {
	if len(s.dataDocker) == 0 {
		return nil
	}

	defer func() {
		s.dataDocker = nil
	}()

	if err := s.createTables(); err != nil {
		return err
	}

	directory := directoryTable
	specs := specificationTable
	for _, r := range s.dataDocker {
		pics := r.spec.Pictures
		if pics == nil {
			pics = []string{}
		}
		p, err := json.Marshal(pics)
		if err != nil {
			return err
		}
		sp, err := json.Marshal(r.spec.Specifications)
		if err != nil {
			return err
		}
		ds, err := json.Marshal(r.spec.Detailed)
		if err != nil {
			return err
		}
		hl, err := json.Marshal(r.spec.Highlights)
		if err != nil {
			return err
		}

		directory.Args = append(directory.Args, r.stub.URL, r.brand, r.stub.Name, r.stub.ImageURL)
		specs.Args = append(specs.Args, r.spec.DeviceURL, r.spec.DisplayName, string(p), string(sp),
			string(ds), string(hl), r.spec.Price.Text, r.spec.Price.URL)
	}
	directory.DataCount = len(s.dataDocker)
	specs.DataCount = len(s.dataDocker)

	if err := s.db.Insert(directory); err != nil {
		return fmt.Errorf("upsert %s: %w", directory.TableName, err)
	}
	if err := s.db.Insert(specs); err != nil {
		return fmt.Errorf("upsert %s: %w", specs.TableName, err)
	}

	s.logger.Debug("mirror flushed", zap.Int("devices", directory.DataCount))
	return nil
}

// PurgeBrands deletes the named brands and the given device URLs from the
// mirror, after flushing anything still buffered.
func (s *SQLStorage) PurgeBrands(brands []string, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flush(); err != nil {
		return err
	}
	if err := s.createTables(); err != nil {
		return err
	}
	if err := s.db.DeleteIn(directoryTable.TableName, "brand_name", toArgs(brands)); err != nil {
		return fmt.Errorf("purge %s: %w", directoryTable.TableName, err)
	}
	if err := s.db.DeleteIn(specificationTable.TableName, "device_url", toArgs(urls)); err != nil {
		return fmt.Errorf("purge %s: %w", specificationTable.TableName, err)
	}
	return nil
}

// Close flushes the buffer and closes the connection pool.
func (s *SQLStorage) Close() error {
	err := s.Flush()
	if c, ok := s.db.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	return args
}
