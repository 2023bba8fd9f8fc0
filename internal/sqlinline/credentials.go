package sqlinline

const QSelectProviderCredentials = `--sql 2b9e6c4a-7f1d-4a8b-9c3e-0d5f8a2b6e47
select id, coalesce(user_id::text, ''), provider, secret_enc
from provider_credentials
where provider = $2::text
  and (user_id = nullif($1::text, '')::uuid or user_id is null)
order by (user_id is null) asc, slot_hint asc, created_at asc;
`

const QUpsertGlobalProviderCredential = `--sql 0f5c8a2e-6b4d-4f9a-8e1c-3a7d0b5f9c28
insert into provider_credentials(id, user_id, provider, slot_hint, secret_enc, created_at)
values ($1::uuid, null, $2::text, $3::int, $4::text, now())
on conflict (provider, slot_hint) where user_id is null
do update set secret_enc = excluded.secret_enc;
`

const QUpsertUserProviderCredential = `--sql 7a1d4f8b-3c6e-4b2a-9d5f-0e8c1b4a7d36
insert into provider_credentials(id, user_id, provider, slot_hint, secret_enc, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::int, $5::text, now())
on conflict (user_id, provider, slot_hint) where user_id is not null
do update set secret_enc = excluded.secret_enc;
`
