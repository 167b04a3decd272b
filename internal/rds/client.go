// Package rds drives the snapshot and restore lifecycle of Amazon RDS
// instances used by the dump workflow.
package rds

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"
)

// ErrAlreadyExists reports that a create call was rejected because a
// resource with the requested identifier exists. The existing resource was
// not created by this call.
var ErrAlreadyExists = errors.New("resource already exists")

// RestoreOptions override settings of the restored instance. Empty fields
// inherit from the snapshot.
type RestoreOptions struct {
	InstanceClass string
	SubnetGroup   string
}

// Client wraps the RDS API for the operations the dump workflow needs.
type Client struct {
	rds     *rds.Client
	restore RestoreOptions
}

func NewClient(cfg aws.Config, opts RestoreOptions) *Client {
	return &Client{
		rds:     rds.NewFromConfig(cfg),
		restore: opts,
	}
}

func (c *Client) CreateSnapshot(ctx context.Context, sourceID, snapshotID string) error {
	_, err := c.rds.CreateDBSnapshot(ctx, &rds.CreateDBSnapshotInput{
		DBInstanceIdentifier: aws.String(sourceID),
		DBSnapshotIdentifier: aws.String(snapshotID),
	})
	if err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("failed to create snapshot %s of %s: %w: %w", snapshotID, sourceID, ErrAlreadyExists, err)
		}
		return fmt.Errorf("failed to create snapshot %s of %s: %w", snapshotID, sourceID, err)
	}
	return nil
}

// SnapshotStatus returns StatusDeleted once the snapshot no longer exists.
func (c *Client) SnapshotStatus(ctx context.Context, snapshotID string) (Status, error) {
	out, err := c.rds.DescribeDBSnapshots(ctx, &rds.DescribeDBSnapshotsInput{
		DBSnapshotIdentifier: aws.String(snapshotID),
	})
	if err != nil {
		if isNotFound(err) {
			return StatusDeleted, nil
		}
		return "", fmt.Errorf("failed to describe snapshot %s: %w", snapshotID, err)
	}
	if len(out.DBSnapshots) == 0 {
		return StatusDeleted, nil
	}
	return ParseStatus(aws.ToString(out.DBSnapshots[0].Status)), nil
}

func (c *Client) RestoreFromSnapshot(ctx context.Context, snapshotID, instanceID string) error {
	input := &rds.RestoreDBInstanceFromDBSnapshotInput{
		DBSnapshotIdentifier: aws.String(snapshotID),
		DBInstanceIdentifier: aws.String(instanceID),
	}
	if c.restore.InstanceClass != "" {
		input.DBInstanceClass = aws.String(c.restore.InstanceClass)
	}
	if c.restore.SubnetGroup != "" {
		input.DBSubnetGroupName = aws.String(c.restore.SubnetGroup)
	}

	if _, err := c.rds.RestoreDBInstanceFromDBSnapshot(ctx, input); err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("failed to restore %s from snapshot %s: %w: %w", instanceID, snapshotID, ErrAlreadyExists, err)
		}
		return fmt.Errorf("failed to restore %s from snapshot %s: %w", instanceID, snapshotID, err)
	}
	return nil
}

// DescribeInstance returns an instance with StatusDeleted once it no longer
// exists.
func (c *Client) DescribeInstance(ctx context.Context, instanceID string) (*Instance, error) {
	out, err := c.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(instanceID),
	})
	if err != nil {
		if isNotFound(err) {
			return &Instance{ID: instanceID, Status: StatusDeleted}, nil
		}
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	if len(out.DBInstances) == 0 {
		return &Instance{ID: instanceID, Status: StatusDeleted}, nil
	}

	db := out.DBInstances[0]
	inst := &Instance{
		ID:     instanceID,
		Status: ParseStatus(aws.ToString(db.DBInstanceStatus)),
	}
	if db.Endpoint != nil {
		inst.Host = aws.ToString(db.Endpoint.Address)
		inst.Port = aws.ToInt32(db.Endpoint.Port)
	}
	return inst, nil
}

func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	_, err := c.rds.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier:   aws.String(instanceID),
		SkipFinalSnapshot:      aws.Bool(true),
		DeleteAutomatedBackups: aws.Bool(true),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete instance %s: %w", instanceID, err)
	}
	return nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	_, err := c.rds.DeleteDBSnapshot(ctx, &rds.DeleteDBSnapshotInput{
		DBSnapshotIdentifier: aws.String(snapshotID),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete snapshot %s: %w", snapshotID, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var snapNF *types.DBSnapshotNotFoundFault
	if errors.As(err, &snapNF) {
		return true
	}

	var instNF *types.DBInstanceNotFoundFault
	if errors.As(err, &instNF) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "DBSnapshotNotFound" || code == "DBInstanceNotFound"
	}

	return false
}

func isAlreadyExists(err error) bool {
	var snapAE *types.DBSnapshotAlreadyExistsFault
	if errors.As(err, &snapAE) {
		return true
	}

	var instAE *types.DBInstanceAlreadyExistsFault
	if errors.As(err, &instAE) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "DBSnapshotAlreadyExists" || code == "DBInstanceAlreadyExists"
	}

	return false
}

var transientCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"RequestLimitExceeded":     true,
	"TooManyRequestsException": true,
	"InternalFailure":          true,
	"ServiceUnavailable":       true,
}

// IsThrottled reports whether err is an RDS throttling or transient
// service-side error worth asking again.
func IsThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.ErrorCode()]
	}
	return false
}
