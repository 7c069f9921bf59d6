// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package discovery finds a receiving access point's address and
// certificate through eDelivery dynamic discovery.
//
// The participant identifier is hashed (SHA-256, unpadded BASE32) and
// looked up as a U-NAPTR record under the BDXL domain:
//
//	<hash>.[<environment>.]<domain>
//
// The record's regexp carries the SMP base URL. The SMP is then asked for
// the service metadata of the document type, and the first active
// endpoint of the process with an accepted transport profile is returned
// as a transmission.Endpoint:
//
//	r, err := discovery.NewResolver(discovery.WithBDXL("edelivery.tech.ec.europa.eu", discovery.EnvAcceptance))
//	if err != nil {
//	    return err
//	}
//	ep, err := r.Resolve(ctx, req.Receiver, req.Service, req.Action)
//
// WithSMP skips the DNS step when the SMP is known.
package discovery
