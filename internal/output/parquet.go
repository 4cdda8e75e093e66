package output

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/cloudwriter"
	"github.com/chrisdamba/foodcart/internal/models"
)

const parquetParallelism = 4

// ParquetOutput keeps one typed writer per topic and hour. Parquet files
// cannot be appended to, so every run writes its own part file and rows are
// flushed on Close.
type ParquetOutput struct {
	basePath string
	folder   string
	runID    string
	logger   *zap.Logger

	mu      sync.Mutex
	writers map[string]*writer.ParquetWriter
	files   map[string]source.ParquetFile

	cloudWriterFactory cloudwriter.CloudWriterFactory
	cloudBucketName    string
}

func NewParquetOutput(cfg *models.Config, logger *zap.Logger) (*ParquetOutput, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &ParquetOutput{
		basePath: cfg.OutputPath,
		folder:   cfg.OutputFolder,
		runID:    uuid.NewString(),
		logger:   logger.Named("parquet"),
		writers:  make(map[string]*writer.ParquetWriter),
		files:    make(map[string]source.ParquetFile),
	}

	if cfg.OutputDestination != "" && cfg.OutputDestination != "local" {
		switch cfg.CloudStorage.Provider {
		case "s3":
			factory, err := cloudwriter.NewS3WriterFactory(context.Background(), cfg.CloudStorage.Region)
			if err != nil {
				return nil, fmt.Errorf("failed to create cloud writer factory: %w", err)
			}
			p.cloudWriterFactory = factory
		default:
			return nil, fmt.Errorf("unsupported cloud storage provider: %s", cfg.CloudStorage.Provider)
		}
		p.cloudBucketName = cfg.CloudStorage.BucketName
	}
	return p, nil
}

// NewCloudParquetOutput writes through factory instead of the local disk.
func NewCloudParquetOutput(factory cloudwriter.CloudWriterFactory, bucket, folder string, logger *zap.Logger) *ParquetOutput {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParquetOutput{
		folder:             folder,
		runID:              uuid.NewString(),
		logger:             logger.Named("parquet"),
		writers:            make(map[string]*writer.ParquetWriter),
		files:              make(map[string]source.ParquetFile),
		cloudWriterFactory: factory,
		cloudBucketName:    bucket,
	}
}

func (p *ParquetOutput) WriteMessage(topic string, msg []byte) error {
	_, ts, err := decodeEvent(msg)
	if err != nil {
		return err
	}
	record, err := decodeRecord(topic, msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	partition := partitionPath(ts)
	key := topic + "_" + partition
	pw, ok := p.writers[key]
	if !ok {
		pw, err = p.createNewWriter(key, topic, partition)
		if err != nil {
			return fmt.Errorf("failed to create new writer: %w", err)
		}
	}
	if err := pw.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (p *ParquetOutput) createNewWriter(key, topic, partition string) (*writer.ParquetWriter, error) {
	name := fmt.Sprintf("part-%s.parquet", p.runID)
	var fw source.ParquetFile
	if p.cloudWriterFactory != nil {
		objectPath := path.Join(p.folder, topic, partition, name)
		cw, err := p.cloudWriterFactory.NewWriter(context.Background(), p.cloudBucketName, objectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud file writer: %w", err)
		}
		fw = NewCloudParquetFile(cw)
	} else {
		_, filePath, err := dataFile(p.basePath, p.folder, topic, partition, name)
		if err != nil {
			return nil, err
		}
		fw, err = local.NewLocalFileWriter(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create local file writer: %w", err)
		}
	}

	schema, err := schemaFor(topic)
	if err != nil {
		fw.Close()
		return nil, err
	}
	pw, err := writer.NewParquetWriter(fw, schema, parquetParallelism)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to create ParquetWriter: %w", err)
	}

	p.writers[key] = pw
	p.files[key] = fw
	p.logger.Debug("opened parquet part", zap.String("key", key))
	return pw, nil
}

func (p *ParquetOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for key, pw := range p.writers {
		if err := pw.WriteStop(); err != nil {
			lastErr = err
			p.logger.Error("failed to finish parquet writer", zap.String("key", key), zap.Error(err))
		}
		if err := p.files[key].Close(); err != nil {
			lastErr = err
			p.logger.Error("failed to close parquet file", zap.String("key", key), zap.Error(err))
		}
	}
	p.writers = make(map[string]*writer.ParquetWriter)
	p.files = make(map[string]source.ParquetFile)
	return lastErr
}

// CloudParquetFile adapts a CloudWriter to the write-only half of
// source.ParquetFile.
type CloudParquetFile struct {
	cloudWriter cloudwriter.CloudWriter
	offset      int64
}

func NewCloudParquetFile(cw cloudwriter.CloudWriter) *CloudParquetFile {
	return &CloudParquetFile{cloudWriter: cw}
}

func (c *CloudParquetFile) Open(string) (source.ParquetFile, error) { return c, nil }
func (c *CloudParquetFile) Create(string) (source.ParquetFile, error) { return c, nil }

func (c *CloudParquetFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		c.offset = offset
	case io.SeekCurrent:
		c.offset += offset
	default:
		return 0, fmt.Errorf("seek from end not supported for cloud storage")
	}
	return c.offset, nil
}

func (c *CloudParquetFile) Read([]byte) (int, error) {
	return 0, fmt.Errorf("read not supported for cloud storage")
}

func (c *CloudParquetFile) Write(b []byte) (int, error) {
	n, err := c.cloudWriter.Write(b)
	c.offset += int64(n)
	return n, err
}

func (c *CloudParquetFile) Close() error {
	return c.cloudWriter.Close()
}
