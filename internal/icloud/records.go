package icloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"notes-sync-indexer/internal/domain"
)

const noteRecordType = "Note"

// Keys requested when listing changes: enough to detect edits without
// pulling note bodies.
var changeKeys = []string{
	"TitleEncrypted",
	"SnippetEncrypted",
	"CreationDate",
	"ModificationDate",
	"Deleted",
}

type ckZoneID struct {
	ZoneName        string `json:"zoneName"`
	OwnerRecordName string `json:"ownerRecordName"`
	ZoneType        string `json:"zoneType,omitempty"`
}

type ckField struct {
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type"`
}

type ckTimestamp struct {
	Timestamp int64 `json:"timestamp"`
}

type ckReference struct {
	RecordName string   `json:"recordName"`
	ZoneID     ckZoneID `json:"zoneID"`
}

type ckRecord struct {
	RecordName      string             `json:"recordName"`
	RecordType      string             `json:"recordType"`
	Fields          map[string]ckField `json:"fields"`
	Created         ckTimestamp        `json:"created"`
	Modified        ckTimestamp        `json:"modified"`
	Deleted         bool               `json:"deleted"`
	ServerErrorCode string             `json:"serverErrorCode"`
	Reason          string             `json:"reason"`
}

type zoneChangesRequest struct {
	Zones []zoneChangesQuery `json:"zones"`
}

type zoneChangesQuery struct {
	ZoneID             ckZoneID `json:"zoneID"`
	DesiredKeys        []string `json:"desiredKeys"`
	DesiredRecordTypes []string `json:"desiredRecordTypes"`
	SyncToken          string   `json:"syncToken,omitempty"`
}

type zoneChangesResponse struct {
	Zones []struct {
		ZoneID     ckZoneID   `json:"zoneID"`
		Records    []ckRecord `json:"records"`
		SyncToken  string     `json:"syncToken"`
		MoreComing bool       `json:"moreComing"`
	} `json:"zones"`
}

type lookupRequest struct {
	Records []struct {
		RecordName string `json:"recordName"`
	} `json:"records"`
	ZoneID ckZoneID `json:"zoneID"`
}

func (c *Client) ListZones(ctx context.Context, s *domain.Session) ([]domain.Zone, error) {
	resp, err := c.call(ctx, s, http.MethodGet, "zones/list", nil)
	if err != nil {
		return nil, &domain.TransportError{Op: "list zones", Err: err}
	}
	if resp.status != http.StatusOK {
		return nil, statusError("list zones", "", resp)
	}

	var out struct {
		Zones []struct {
			ZoneID ckZoneID `json:"zoneID"`
		} `json:"zones"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, &domain.TransportError{Op: "list zones", Err: err}
	}

	zones := make([]domain.Zone, 0, len(out.Zones))
	for _, z := range out.Zones {
		zones = append(zones, domain.Zone{
			Name:            z.ZoneID.ZoneName,
			OwnerRecordName: z.ZoneID.OwnerRecordName,
		})
	}
	return zones, nil
}

// ListChanged pages through every live note in the zone.
func (c *Client) ListChanged(ctx context.Context, s *domain.Session, zone domain.Zone) ([]domain.RecordChange, error) {
	var changes []domain.RecordChange
	syncToken := ""

	for {
		body := zoneChangesRequest{Zones: []zoneChangesQuery{{
			ZoneID:             zoneID(zone, "REGULAR_CUSTOM_ZONE"),
			DesiredKeys:        changeKeys,
			DesiredRecordTypes: []string{noteRecordType},
			SyncToken:          syncToken,
		}}}

		resp, err := c.call(ctx, s, http.MethodPost, "changes/zone", body)
		if err != nil {
			return nil, &domain.TransportError{Op: "list changes " + zone.Name, Err: err}
		}
		if resp.status != http.StatusOK {
			return nil, statusError("list changes "+zone.Name, "", resp)
		}

		var out zoneChangesResponse
		if err := resp.decode(&out); err != nil {
			return nil, &domain.TransportError{Op: "list changes " + zone.Name, Err: err}
		}

		more := false
		for _, z := range out.Zones {
			for _, rec := range z.Records {
				if rec.Deleted || rec.RecordType != noteRecordType || rec.int64Field("Deleted") != 0 {
					continue
				}
				changes = append(changes, domain.RecordChange{
					RecordID:   rec.RecordName,
					ModifiedAt: rec.modifiedAt(),
				})
			}
			if z.MoreComing && z.SyncToken != "" && z.SyncToken != syncToken {
				more = true
				syncToken = z.SyncToken
			}
		}
		if !more {
			return changes, nil
		}
	}
}

func (c *Client) Fetch(ctx context.Context, s *domain.Session, zone domain.Zone, recordID string) (*domain.RawNoteRecord, error) {
	rec, err := c.lookup(ctx, s, zone, recordID)
	if err != nil {
		return nil, err
	}

	raw := &domain.RawNoteRecord{
		RecordID:         rec.RecordName,
		ZoneName:         zone.Name,
		OwnerID:          zone.OwnerRecordName,
		CreatedAt:        rec.createdAt(),
		ModifiedAt:       rec.modifiedAt(),
		TitleEncrypted:   rec.bytesField("TitleEncrypted"),
		SnippetEncrypted: rec.bytesField("SnippetEncrypted"),
		TextEncrypted:    rec.bytesField("TextDataEncrypted"),
		FolderOwnerID:    zone.OwnerRecordName,
	}
	if folder, ok := rec.folder(); ok {
		raw.FolderID = folder.RecordName
		if folder.ZoneID.OwnerRecordName != "" {
			raw.FolderOwnerID = folder.ZoneID.OwnerRecordName
		}
	}
	return raw, nil
}

// FolderName resolves a folder's display title. A folder without a title
// is named by its record id.
func (c *Client) FolderName(ctx context.Context, s *domain.Session, zone domain.Zone, folderID string) (string, error) {
	if folderID == "" {
		return "", nil
	}
	rec, err := c.lookup(ctx, s, zone, folderID)
	if err != nil {
		return "", err
	}
	if title := rec.bytesField("TitleEncrypted"); len(title) > 0 {
		return string(title), nil
	}
	return folderID, nil
}

func (c *Client) lookup(ctx context.Context, s *domain.Session, zone domain.Zone, recordID string) (*ckRecord, error) {
	var body lookupRequest
	body.Records = append(body.Records, struct {
		RecordName string `json:"recordName"`
	}{RecordName: recordID})
	body.ZoneID = zoneID(zone, "")

	resp, err := c.call(ctx, s, http.MethodPost, "records/lookup", body)
	if err != nil {
		return nil, &domain.TransportError{Op: "lookup", RecordID: recordID, Err: err}
	}
	if resp.status != http.StatusOK {
		return nil, statusError("lookup", recordID, resp)
	}

	var out struct {
		Records []ckRecord `json:"records"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, &domain.TransportError{Op: "lookup", RecordID: recordID, Err: err}
	}
	if len(out.Records) == 0 {
		return nil, &domain.TransportError{Op: "lookup", RecordID: recordID, Err: domain.ErrNotFound}
	}

	rec := &out.Records[0]
	if rec.ServerErrorCode != "" {
		err := fmt.Errorf("%s: %s", rec.ServerErrorCode, rec.Reason)
		if rec.ServerErrorCode == "NOT_FOUND" {
			err = fmt.Errorf("%w: %s", domain.ErrNotFound, rec.Reason)
		}
		return nil, &domain.TransportError{Op: "lookup", RecordID: recordID, Err: err}
	}
	return rec, nil
}

func (c *Client) call(ctx context.Context, s *domain.Session, method, op string, body any) (*response, error) {
	base := c.serviceURL(s, databaseService, c.databaseURL)

	params := url.Values{}
	for k, v := range ckParams {
		params.Set(k, v)
	}
	params.Set("clientId", s.Material.ClientID)
	params.Set("dsid", s.Material.DSID)

	endpoint := fmt.Sprintf("%s/database/1/%s/production/%s/%s?%s",
		base, c.container, c.database, op, params.Encode())

	return c.do(ctx, s, request{method: method, url: endpoint, body: body})
}

func statusError(op, recordID string, resp *response) error {
	msg := string(resp.body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &domain.TransportError{
		Op:         op,
		RecordID:   recordID,
		StatusCode: resp.status,
		Err:        errors.New(msg),
	}
}

func zoneID(zone domain.Zone, zoneType string) ckZoneID {
	return ckZoneID{
		ZoneName:        zone.Name,
		OwnerRecordName: zone.OwnerRecordName,
		ZoneType:        zoneType,
	}
}

// modifiedAt prefers the note's own ModificationDate field and falls back to
// the record system timestamp. Listing and fetching both use it so the
// change cursor compares like with like.
func (r *ckRecord) modifiedAt() int64 {
	if v := r.int64Field("ModificationDate"); v != 0 {
		return v
	}
	return r.Modified.Timestamp
}

func (r *ckRecord) createdAt() int64 {
	if v := r.int64Field("CreationDate"); v != 0 {
		return v
	}
	return r.Created.Timestamp
}

func (r *ckRecord) int64Field(name string) int64 {
	f, ok := r.Fields[name]
	if !ok {
		return 0
	}
	var v int64
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return 0
	}
	return v
}

// bytesField decodes a base64 field value.
func (r *ckRecord) bytesField(name string) []byte {
	f, ok := r.Fields[name]
	if !ok {
		return nil
	}
	var v []byte
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return nil
	}
	return v
}

func (r *ckRecord) folder() (ckReference, bool) {
	if f, ok := r.Fields["Folders"]; ok {
		var refs []ckReference
		if err := json.Unmarshal(f.Value, &refs); err == nil && len(refs) > 0 {
			return refs[0], true
		}
	}
	if f, ok := r.Fields["Folder"]; ok {
		var ref ckReference
		if err := json.Unmarshal(f.Value, &ref); err == nil && ref.RecordName != "" {
			return ref, true
		}
	}
	return ckReference{}, false
}
