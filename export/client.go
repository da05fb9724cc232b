package export

import (
	"fmt"
	"time"

	"github.com/nci/composite/processor"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to the batch export service.  It implements
// processor.Submitter.
type Client struct {
	conn    *grpc.ClientConn
	Timeout time.Duration
}

// Dial connects lazily to address.
func Dial(address string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.Dial(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing export service %s: %w", address, err)
	}
	return &Client{conn: conn, Timeout: timeout}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// Submit queues task and returns its id.
func (c *Client) Submit(ctx context.Context, task *processor.ExportTask) (string, error) {
	in, err := TaskToStruct(task, time.Now())
	if err != nil {
		return "", err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out := new(wrapperspb.StringValue)
	if err = c.conn.Invoke(ctx, submitMethod, in, out); err != nil {
		return "", fmt.Errorf("submitting %s: %w", task.Description, err)
	}
	return out.GetValue(), nil
}

// Status returns the ledger state of a task.
func (c *Client) Status(ctx context.Context, id string) (*TaskStatus, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, statusMethod, wrapperspb.String(id), out); err != nil {
		return nil, fmt.Errorf("status of %s: %w", id, err)
	}
	return StatusFromStruct(out)
}

var _ processor.Submitter = (*Client)(nil)
