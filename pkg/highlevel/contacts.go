package highlevel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
)

// Contact is the CRM contact record, limited to the attributes the merge
// engine reads and writes.
type Contact struct {
	ID           string             `json:"id,omitempty"`
	LocationID   string             `json:"locationId,omitempty"`
	Name         string             `json:"name,omitempty"`
	FirstName    string             `json:"firstName,omitempty"`
	LastName     string             `json:"lastName,omitempty"`
	Email        string             `json:"email,omitempty"`
	Phone        string             `json:"phone,omitempty"`
	DateOfBirth  string             `json:"dateOfBirth,omitempty"`
	Address1     string             `json:"address1,omitempty"`
	City         string             `json:"city,omitempty"`
	State        string             `json:"state,omitempty"`
	Country      string             `json:"country,omitempty"`
	PostalCode   string             `json:"postalCode,omitempty"`
	CompanyName  string             `json:"companyName,omitempty"`
	Website      string             `json:"website,omitempty"`
	Timezone     string             `json:"timezone,omitempty"`
	Source       string             `json:"source,omitempty"`
	DND          bool               `json:"dnd,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	CustomFields []CustomFieldValue `json:"customFields,omitempty"`
	DateAdded    string             `json:"dateAdded,omitempty"`
	DateUpdated  string             `json:"dateUpdated,omitempty"`
}

// CustomFieldValue carries one custom field value on a contact.
type CustomFieldValue struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// ContactUpdate is the PUT body for a contact update: standard field names
// mapped to values, plus optional "tags" and "customFields" entries.
type ContactUpdate map[string]any

// readOnlyContactFields are attributes the API rejects on update.
var readOnlyContactFields = []string{"id", "locationId", "dateAdded", "dateUpdated"}

// contactEnvelope wraps contact responses from the API.
type contactEnvelope struct {
	Contact Contact `json:"contact"`
}

func (c *httpClient) GetContact(ctx context.Context, token, contactID string) (*Contact, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "highlevel: rate limit")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/contacts/"+contactID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "highlevel: create request")
	}
	c.setAuthHeaders(httpReq, token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "highlevel: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "highlevel: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result contactEnvelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "highlevel: unmarshal contact")
	}

	return &result.Contact, nil
}

func (c *httpClient) UpdateContact(ctx context.Context, token, contactID string, update ContactUpdate) (*Contact, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "highlevel: rate limit")
	}

	payload := make(map[string]any, len(update))
	for k, v := range update {
		payload[k] = v
	}
	for _, k := range readOnlyContactFields {
		delete(payload, k)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "highlevel: marshal update")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/contacts/"+contactID, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "highlevel: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq, token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "highlevel: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "highlevel: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result contactEnvelope
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "highlevel: unmarshal contact")
	}

	return &result.Contact, nil
}

func (c *httpClient) setAuthHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Accept", "application/json")
}
