package sqlinline

const QInsertSession = `--sql f8b3d1e7-2a9c-4f5b-8d0e-4c6a1b9f3e72
insert into pipeline_sessions(id, user_id, version_ids, active_index, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::uuid[], $4::int, now(), now());
`

const QSelectSessionByID = `--sql a2c8e4f6-9d1b-4c7a-b3e8-5f0d2a6c8b19
select id, user_id, version_ids, active_index, created_at, updated_at
from pipeline_sessions
where id = $1::uuid
limit 1;
`

const QAppendSessionVersion = `--sql 6e4a2d8c-5f3b-4e1d-9a7c-8b0f6d2e4a53
update pipeline_sessions
set version_ids = array_append(version_ids, $2::uuid),
    active_index = coalesce(array_length(version_ids, 1), 0),
    updated_at = now()
where id = $1::uuid;
`

const QSetSessionActiveIndex = `--sql d7f1b5e9-3c8a-4b2f-a6d0-1e9c4f7b3a86
update pipeline_sessions
set active_index = $2::int, updated_at = now()
where id = $1::uuid;
`
