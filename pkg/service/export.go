package service

import (
	"fmt"

	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/store"
)

// ExportBucket returns a bucket's metadata together with all of its
// events. Storage-assigned event ids are stripped: exports are portable
// between stores and ids are regenerated on import.
func (s *Service) ExportBucket(bucketID string) (model.BucketExport, error) {
	b, err := s.db.GetBucket(bucketID)
	if err != nil {
		return model.BucketExport{}, err
	}
	events, err := s.db.Events(bucketID, -1, nil, nil)
	if err != nil {
		return model.BucketExport{}, err
	}
	for i := range events {
		events[i].ID = 0
	}
	if events == nil {
		events = []model.Event{}
	}
	return model.BucketExport{Bucket: b, Events: events}, nil
}

// ExportAll exports every bucket in the store.
func (s *Service) ExportAll() (model.Export, error) {
	buckets, err := s.db.Buckets()
	if err != nil {
		return model.Export{}, err
	}
	out := model.Export{Buckets: make(map[string]model.BucketExport, len(buckets))}
	for id := range buckets {
		be, err := s.ExportBucket(id)
		if err != nil {
			return model.Export{}, err
		}
		out.Buckets[id] = be
	}
	return out, nil
}

// ImportBucket creates the bucket described by be and inserts its events.
// Any ids carried by the events are discarded so the store assigns fresh
// ones.
func (s *Service) ImportBucket(be model.BucketExport) error {
	if be.ID == "" {
		return fmt.Errorf("bucket export missing id: %w", store.ErrBadRequest)
	}
	s.log.WithField("bucket", be.ID).Info("importing bucket")
	created := be.Created
	if _, err := s.CreateBucket(be.ID, be.Type, be.Client, be.Hostname, &created, be.Data); err != nil {
		return err
	}
	if len(be.Events) == 0 {
		return nil
	}
	events := make([]model.Event, len(be.Events))
	copy(events, be.Events)
	for i := range events {
		events[i].ID = 0
	}
	_, err := s.CreateEvents(be.ID, events)
	return err
}

// ImportAll imports every bucket in the envelope.
func (s *Service) ImportAll(exp model.Export) error {
	for _, be := range exp.Buckets {
		if err := s.ImportBucket(be); err != nil {
			return err
		}
	}
	return nil
}
