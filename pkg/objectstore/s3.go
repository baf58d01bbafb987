package objectstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// metadataTotalRows is the user-metadata key producers stamp on landed
// objects with the full row count
const metadataTotalRows = "total-rows"

// maxScanTokenSize bounds a single NDJSON line (16 MiB)
const maxScanTokenSize = 16 * 1024 * 1024

// s3API is the subset of the S3 client used by the store
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store reads NDJSON datasets from S3
type S3Store struct {
	log    logrus.FieldLogger
	api    s3API
	bucket string
	prefix string
}

// NewS3Store creates an object store backed by S3
func NewS3Store(ctx context.Context, logger logrus.FieldLogger, cfg *Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Store{
		log:    logger.WithField("component", "objectstore-s3"),
		api:    s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Store) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.prefix == "" {
		return path
	}

	return s.prefix + "/" + path
}

// Get reads the full object as a dataset
func (s *S3Store) Get(ctx context.Context, path string) (*Dataset, error) {
	body, metadata, err := s.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	rows, err := decodeRows(newLineScanner(body), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	total := len(rows)
	if v, ok := totalRowsFromMetadata(metadata); ok {
		total = v
	}

	return newDataset(rows, total), nil
}

// GetSample reads at most limit rows while reporting the full object's row
// count in TotalRows
func (s *S3Store) GetSample(ctx context.Context, path string, limit int) (*Dataset, error) {
	body, metadata, err := s.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	scanner := newLineScanner(body)

	rows, err := decodeRows(scanner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	total, ok := totalRowsFromMetadata(metadata)
	if !ok {
		// No producer metadata: keep reading the same scanner and count the
		// remaining lines without decoding them
		remaining, err := countLines(scanner)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", path, err)
		}

		total = len(rows) + remaining
	}

	return newDataset(rows, total), nil
}

// Iterate streams the object in datasets of at most batchSize rows
func (s *S3Store) Iterate(ctx context.Context, path string, batchSize int) (Iterator, error) {
	body, _, err := s.open(ctx, path)
	if err != nil {
		return nil, err
	}

	return &s3Iterator{
		body:      body,
		scanner:   newLineScanner(body),
		batchSize: batchSize,
	}, nil
}

func (s *S3Store) open(ctx context.Context, path string) (io.ReadCloser, map[string]string, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
		}

		return nil, nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}

	return out.Body, out.Metadata, nil
}

type s3Iterator struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	batchSize int
	done      bool
}

func (it *s3Iterator) Next(_ context.Context) (*Dataset, error) {
	if it.done {
		return nil, io.EOF
	}

	rows := make([]Row, 0, it.batchSize)

	for len(rows) < it.batchSize && it.scanner.Scan() {
		line := it.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var row Row
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}

		rows = append(rows, row)
	}

	if err := it.scanner.Err(); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		it.done = true
		return nil, io.EOF
	}

	if len(rows) < it.batchSize {
		it.done = true
	}

	return newDataset(rows, len(rows)), nil
}

func (it *s3Iterator) Close() error {
	return it.body.Close()
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	return scanner
}

func decodeRows(scanner *bufio.Scanner, limit int) ([]Row, error) {
	var rows []Row

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var row Row
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}

		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return rows, nil
}

func countLines(scanner *bufio.Scanner) (int, error) {
	count := 0

	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			count++
		}
	}

	return count, scanner.Err()
}

func totalRowsFromMetadata(metadata map[string]string) (int, bool) {
	raw, ok := metadata[metadataTotalRows]
	if !ok {
		return 0, false
	}

	total, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}

	return total, true
}

func newDataset(rows []Row, total int) *Dataset {
	return &Dataset{
		Columns:   columnsOf(rows),
		Rows:      rows,
		TotalRows: total,
	}
}

func columnsOf(rows []Row) []string {
	if len(rows) == 0 {
		return nil
	}

	cols := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		cols = append(cols, col)
	}

	sort.Strings(cols)

	return cols
}
